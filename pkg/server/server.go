// Package server exposes the gift-tax calculator over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coolbeans/gifttax/pkg/engine"
	"github.com/coolbeans/gifttax/pkg/gift"
	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/coolbeans/gifttax/pkg/report"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// LawSource supplies the law table snapshot for a request.
// *lawtable.Registry satisfies it.
type LawSource interface {
	Current() *lawtable.LawContext
}

// Server serves the health, law and compute endpoints.
type Server struct {
	law       LawSource
	validator *gift.Validator
	logger    *zap.Logger
	router    *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidator replaces the default input validator.
func WithValidator(v *gift.Validator) Option {
	return func(s *Server) {
		if v != nil {
			s.validator = v
		}
	}
}

// New builds a server reading tables from law.
func New(law LawSource, opts ...Option) *Server {
	s := &Server{
		law:       law,
		validator: gift.NewValidator(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(requestID(), requestLogger(s.logger), gin.Recovery())

	r.GET("/health", s.health)
	api := r.Group("/api")
	{
		api.GET("/law", s.lawTable)
		api.POST("/compute", s.compute)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	law := s.law.Current()
	if law == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"law_version": law.Version(),
		"configured":  law.Configured(),
	})
}

func (s *Server) lawTable(c *gin.Context) {
	law, ok := s.currentLaw(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"version":        law.Version(),
			"reference":      law.Reference(),
			"configured":     law.Configured(),
			"gaps":           law.Gaps(),
			"deductions":     law.DeductionSchedule(),
			"brackets":       law.Brackets(),
			"credit_formula": law.CreditFormula(),
		},
	})
}

func (s *Server) compute(c *gin.Context) {
	var raw gift.Raw
	if err := c.ShouldBindJSON(&raw); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	law, ok := s.currentLaw(c)
	if !ok {
		return
	}

	in, err := s.validator.Validate(raw)
	if err != nil {
		var validationErr *gift.ValidationError
		if errors.As(err, &validationErr) {
			fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), gin.H{"problems": validationErr.Problems})
			return
		}
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	breakdown, err := engine.Compute(in, law)
	switch {
	case errors.Is(err, engine.ErrUnsupportedCategory):
		fail(c, http.StatusUnprocessableEntity, "UNSUPPORTED_CATEGORY", err.Error(), nil)
		return
	case err != nil:
		s.logger.Error("compute failed", zap.String(requestIDKey, c.GetString(requestIDKey)), zap.Error(err))
		fail(c, http.StatusInternalServerError, "COMPUTE_FAILED", err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    breakdown,
		"report":  report.Lines(breakdown),
	})
}

// currentLaw takes one snapshot for the request, or answers 503.
func (s *Server) currentLaw(c *gin.Context) (*lawtable.LawContext, bool) {
	law := s.law.Current()
	if law == nil {
		fail(c, http.StatusServiceUnavailable, "LAW_TABLE_UNAVAILABLE", "no law table is loaded", nil)
		return nil, false
	}
	return law, true
}

func fail(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{"code": code, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, gin.H{"success": false, "error": body})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String(requestIDKey, c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
