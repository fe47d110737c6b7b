// Package httpapi is the HTTP transport: intents in, the delta feed out as
// server-sent events, plus read-only views of the cafe.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/cafesync/internal/auth"
	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/gateway"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/metrics"
	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/wire"
)

const claimsKey = "claims"

// Authority is the part of the gateway the transport uses.
type Authority interface {
	Submit(ctx context.Context, in wire.Intent) (wire.IntentResult, error)
	Join(ctx context.Context, name string) (*gateway.Subscription, error)
	Leave(ctx context.Context, sub *gateway.Subscription) error
	Snapshot(ctx context.Context) (wire.WelcomeSnapshot, int64, error)
	Stats(ctx context.Context) (sim.Stats, error)
}

// Server holds the handlers.
type Server struct {
	gw      Authority
	catalog *menu.Catalog
	signer  *auth.Signer
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSigner requires bearer tokens. Without a signer the requester id is
// taken from the intent body.
func WithSigner(s *auth.Signer) Option {
	return func(srv *Server) { srv.signer = s }
}

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// New returns a server.
func New(gw Authority, catalog *menu.Catalog, opts ...Option) *Server {
	s := &Server{gw: gw, catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.GET("/menu", s.getMenu)
	api.GET("/snapshot", s.getSnapshot)
	api.GET("/stats", s.getStats)

	authed := api.Group("")
	authed.Use(s.authenticate)
	{
		authed.POST("/intents", s.postIntent)
		authed.GET("/stream", s.stream)
	}
	return r
}

// authenticate resolves the caller from a bearer token or, for
// EventSource clients that cannot set headers, a token query parameter.
func (s *Server) authenticate(c *gin.Context) {
	if s.signer == nil {
		c.Next()
		return
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		abortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
		return
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		abortError(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func claimsOf(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func (s *Server) postIntent(c *gin.Context) {
	var in wire.Intent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, wire.Reject(fault.Validation("malformed intent: %v", err)))
		return
	}
	if claims, ok := claimsOf(c); ok {
		if !claims.CanSubmit() {
			abortError(c, http.StatusForbidden, "FORBIDDEN", "observer tokens cannot submit intents")
			return
		}
		in.RequesterID = claims.Subject
	}

	res, err := s.gw.Submit(c.Request.Context(), in)
	if err != nil {
		s.unavailable(c, err)
		return
	}
	c.JSON(statusFor(res), res)
}

func (s *Server) stream(c *gin.Context) {
	name := c.Query("name")
	if claims, ok := claimsOf(c); ok {
		name = claims.Subject
	}
	sub, err := s.gw.Join(c.Request.Context(), name)
	if err != nil {
		s.unavailable(c, err)
		return
	}
	defer func() {
		if err := s.gw.Leave(context.Background(), sub); err != nil && !errors.Is(err, gateway.ErrStopped) {
			s.logger.Warn("leave failed", "observer", sub.ID, "error", err)
		}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case env, ok := <-sub.Envelopes():
			if !ok {
				if sub.Dropped() {
					c.SSEvent("dropped", gin.H{"reason": "observer fell behind"})
				}
				return false
			}
			c.SSEvent(string(env.Type), env)
			return true
		}
	})
}

type snapshotResponse struct {
	Seq      int64                `json:"seq"`
	Digest   string               `json:"digest"`
	Snapshot wire.WelcomeSnapshot `json:"snapshot"`
}

func (s *Server) getSnapshot(c *gin.Context) {
	snap, seq, err := s.gw.Snapshot(c.Request.Context())
	if err != nil {
		s.unavailable(c, err)
		return
	}
	digest, err := wire.Digest(snap)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	c.JSON(http.StatusOK, snapshotResponse{Seq: seq, Digest: digest, Snapshot: snap})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.gw.Stats(c.Request.Context())
	if err != nil {
		s.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getMenu(c *gin.Context) {
	if cat := c.Query("category"); cat != "" {
		parsed, err := menu.ParseCategory(cat)
		if err != nil {
			abortError(c, http.StatusBadRequest, string(fault.CodeValidation), err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": s.catalog.ByCategory(parsed)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": s.catalog.All()})
}

func (s *Server) unavailable(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	s.logger.Warn("authority unavailable", "path", c.FullPath(), "error", err)
	abortError(c, status, "UNAVAILABLE", err.Error())
}

// statusFor maps a rejection code to an HTTP status.
func statusFor(res wire.IntentResult) int {
	if res.Accepted {
		return http.StatusOK
	}
	switch res.Code {
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeInvalidState:
		return http.StatusConflict
	case fault.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// Serve runs the router on addr until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
