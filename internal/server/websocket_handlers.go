package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/segpost/internal/report"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketSegmentRequest is a JSON text frame. Binary frames carry raw
// image bytes and use the default options.
type WebSocketSegmentRequest struct {
	Image     []byte `json:"image"`
	Masks     bool   `json:"masks,omitempty"`
	Overlay   bool   `json:"overlay,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WebSocketSegmentResponse is sent for every request frame.
type WebSocketSegmentResponse struct {
	Type      string         `json:"type"`
	Status    string         `json:"status"` // "completed", "error"
	Result    *report.Report `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// segmentWebSocketHandler upgrades the connection and serves segmentation
// requests until the client goes away.
func (s *Server) segmentWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(s.maxUploadMB << 20)

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			s.handleWebSocketRequest(ctx, conn, WebSocketSegmentRequest{Image: data})
		case websocket.TextMessage:
			var req WebSocketSegmentRequest
			if err := json.Unmarshal(data, &req); err != nil {
				s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
				continue
			}
			s.handleWebSocketRequest(ctx, conn, req)
		}
	}
}

// handleWebSocketRequest segments one image and writes the response.
func (s *Server) handleWebSocketRequest(ctx context.Context, conn WebSocketConnWriter, req WebSocketSegmentRequest) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, requestID, "invalid_request", "No image data provided")
		return
	}

	opts := report.Options{Masks: req.Masks, Overlay: req.Overlay, Render: s.render}
	rep, err := s.segmentBytes(ctx, "websocket", req.Image, opts)
	if err != nil {
		errType := "processing_error"
		var re *requestError
		if errors.As(err, &re) && re.status < http.StatusInternalServerError {
			errType = "invalid_request"
		}
		s.sendWebSocketError(conn, requestID, errType, err.Error())
		return
	}

	s.sendWebSocketResponse(conn, WebSocketSegmentResponse{
		Type:      "segment_response",
		Status:    "completed",
		Result:    rep,
		RequestID: requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketSegmentResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketSegmentResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
