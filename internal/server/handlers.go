package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/segpost/internal/report"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
)

const (
	formatJSON = "json"
	formatText = "text"
	formatCSV  = "csv"
)

// requestError carries the HTTP status for a failed segmentation request.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

// modelHandler describes the loaded model and the handle pool.
func (s *Server) modelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := ModelResponse{
		Model:   s.modelInfo,
		Classes: s.labels.Len(),
	}
	if s.labels != nil {
		response.Labels = s.labels.Names
	}
	if ps, ok := s.segmenter.(poolStats); ok {
		response.Handles = ps.Size()
		response.Available = ps.Available()
	}
	writeJSON(w, http.StatusOK, response)
}

// segmentHandler segments one uploaded image. The image is sent as the
// multipart field "image"; masks, overlay and format are read from the
// query string or form.
func (s *Server) segmentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	data, err := readUpload(r)
	if err != nil {
		segmentRequestsTotal.WithLabelValues("http", "error").Inc()
		s.writeError(w, err)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	format := strings.ToLower(r.FormValue("format"))
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatText && format != formatCSV {
		segmentRequestsTotal.WithLabelValues("http", "error").Inc()
		s.writeError(w, badRequest("unsupported format %q", format))
		return
	}

	opts := report.Options{
		Masks:   parseBool(r.FormValue("masks")),
		Overlay: parseBool(r.FormValue("overlay")),
		Render:  s.render,
	}

	rep, err := s.segmentBytes(r.Context(), "http", data, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hdr := uploadName(r); hdr != "" {
		rep.Source = hdr
	}

	switch format {
	case formatText:
		out, err := report.ToPlainText(rep)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, out)
	case formatCSV:
		out, err := report.ToCSV(rep)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = io.WriteString(w, out)
	default:
		writeJSON(w, http.StatusOK, SegmentResponse{Success: true, Result: rep})
	}
}

// SegmentResponse is the JSON body of a successful segmentation.
type SegmentResponse struct {
	Success bool           `json:"success"`
	Result  *report.Report `json:"result"`
}

// segmentBytes decodes data, runs it through the segmenter and builds the
// report. Metrics are recorded under source.
func (s *Server) segmentBytes(ctx context.Context, source string, data []byte, opts report.Options) (*report.Report, error) {
	img, meta, err := utils.DecodeImage(data)
	if err != nil {
		segmentRequestsTotal.WithLabelValues(source, "error").Inc()
		return nil, badRequest("failed to decode image: %v", err)
	}
	if err := utils.ValidateImageConstraints(img, s.constraints); err != nil {
		segmentRequestsTotal.WithLabelValues(source, "error").Inc()
		return nil, badRequest("%v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.segmenter.Process(ctx, img)
	segmentDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		segmentRequestsTotal.WithLabelValues(source, "error").Inc()
		slog.Warn("Segmentation failed", "source", source, "format", meta.Format, "error", err)
		return nil, classify(err)
	}

	rep, err := report.Build(res, img, s.labels, opts)
	if err != nil {
		segmentRequestsTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("build report: %w", err)
	}

	segmentRequestsTotal.WithLabelValues(source, "success").Inc()
	detectionsPerImage.WithLabelValues(source).Observe(float64(rep.Count))
	slog.Debug("Segmented image", "source", source, "width", meta.Width, "height", meta.Height,
		"detections", rep.Count, "duration", time.Since(start))
	return rep, nil
}

// classify maps segmenter errors to HTTP statuses.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, segment.ErrPoolClosed):
		return &requestError{status: http.StatusServiceUnavailable, err: err}
	case errors.Is(err, segment.ErrBackend):
		return &requestError{status: http.StatusBadGateway, err: err}
	default:
		return err
	}
}

// readUpload returns the bytes of the multipart "image" field.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &requestError{status: http.StatusRequestEntityTooLarge,
				err: fmt.Errorf("upload exceeds %d bytes", mbe.Limit)}
		}
		return nil, badRequest("failed to parse multipart form: %v", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, badRequest("missing image field: %v", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, badRequest("failed to read image: %v", err)
	}
	return data, nil
}

func uploadName(r *http.Request) string {
	if r.MultipartForm == nil {
		return ""
	}
	if files := r.MultipartForm.File["image"]; len(files) > 0 {
		return files[0].Filename
	}
	return ""
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var re *requestError
	if errors.As(err, &re) {
		status = re.status
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Success: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
