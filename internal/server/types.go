// Package server exposes the segmentation pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/render"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segmenter runs segmentation for concurrent requests. *segment.HandlePool
// satisfies it.
type Segmenter interface {
	Process(ctx context.Context, img image.Image) (*segment.Result, error)
	Close() error
}

// poolStats is optionally implemented by a Segmenter to report handle usage.
type poolStats interface {
	Size() int
	Available() int
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	segmenter   Segmenter
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	labels      *models.Labels
	render      render.Options
	constraints utils.ImageConstraints
	modelInfo   map[string]interface{}
	version     string
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	CORSOrigin         string
	MaxUploadMB        int64
	TimeoutSec         int
	RateLimitPerMinute int
	Labels             *models.Labels
	Render             render.Options
	Constraints        utils.ImageConstraints
	ModelInfo          map[string]interface{}
	Version            string
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ModelResponse struct {
	Model     map[string]interface{} `json:"model,omitempty"`
	Classes   int                    `json:"classes"`
	Labels    []string               `json:"labels,omitempty"`
	Handles   int                    `json:"handles,omitempty"`
	Available int                    `json:"available,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a server around seg. The server owns seg and closes it
// in Close.
func NewServer(seg Segmenter, cfg Config) (*Server, error) {
	if seg == nil {
		return nil, errors.New("server needs a segmenter")
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if cfg.Constraints == (utils.ImageConstraints{}) {
		cfg.Constraints = utils.DefaultImageConstraints()
	}
	if cfg.Render == (render.Options{}) {
		cfg.Render = render.DefaultOptions()
	}

	return &Server{
		segmenter:   seg,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		labels:      cfg.Labels,
		render:      cfg.Render,
		constraints: cfg.Constraints,
		modelInfo:   cfg.ModelInfo,
		version:     cfg.Version,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute),
	}, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.segmenter != nil {
		return s.segmenter.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/model", s.corsMiddleware(s.modelHandler))
	mux.HandleFunc("/v1/segment", s.corsMiddleware(s.rateLimitMiddleware(s.segmentHandler)))
	mux.HandleFunc("/ws/segment", s.segmentWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
