package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"orderflow/internal/domain"
	"orderflow/internal/execution"
	"orderflow/internal/hub"
	"orderflow/internal/infra"
	"orderflow/internal/infra/binance"
)

// ExchangeInfoFetcher provides symbol metadata for the admin surface.
type ExchangeInfoFetcher interface {
	FetchExchangeInfo(ctx context.Context) (binance.ExchangeInfo, error)
}

// Server exposes the envelope stream over WebSocket and the execution
// admin API over REST.
type Server struct {
	cfg      *infra.Config
	hub      *hub.Hub
	session  *execution.Session
	exchange ExchangeInfoFetcher

	engine   *gin.Engine
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer wires the routes. The exchange fetcher may be nil when no
// REST client is configured; the exchange-info endpoint then returns 503.
func NewServer(cfg *infra.Config, h *hub.Hub, session *execution.Session, exchange ExchangeInfoFetcher) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		hub:      h,
		session:  session,
		exchange: exchange,
		engine:   gin.New(),
		upgrader: newUpgrader(cfg.Server.AllowedOrigins),
	}
	s.engine.Use(gin.Recovery())
	s.engine.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	s.routes()
	return s
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	check := originChecker(allowed)
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && check(c.Request) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) routes() {
	s.engine.GET("/ws", s.handleWS)

	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/testnet/exchange-info", s.getExchangeInfo)

	exec := s.engine.Group("/api/execution")
	exec.GET("/status", s.getExecutionStatus)
	exec.POST("/connect", s.postConnect)
	exec.POST("/disconnect", s.postDisconnect)
	exec.POST("/enabled", s.postEnabled)
	exec.POST("/settings", s.postSettings)
	exec.POST("/symbol", s.postSymbol)
}

// Router returns the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.engine }

// Start binds the listening socket and begins serving in the background.
// A bind failure is returned to the caller.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		slog.Info("HTTP server listening", slog.String("addr", addr))
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any("error", err))
		}
	}()
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func errStatus(err error) int {
	var cfgErr *domain.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortError(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}

func (s *Server) getHealth(c *gin.Context) {
	snap := infra.GlobalMetrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"subscribers":       s.hub.SubscriberCount(),
		"streams_connected": snap.StreamsConnected,
		"envelopes_built":   snap.EnvelopesBuilt,
		"diffs_applied":     snap.DiffsApplied,
		"gaps_detected":     snap.GapsDetected,
		"trades_ingested":   snap.TradesIngested,
		"messages_dropped":  snap.MessagesDropped,
		"oi_poll_errors":    snap.OiPollErrors,
		"avg_latency_ns":    snap.AvgLatencyNs,
		"timestamp":         snap.Timestamp.UnixMilli(),
	})
}

func (s *Server) getExchangeInfo(c *gin.Context) {
	if s.exchange == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exchange client not configured"})
		return
	}
	info, err := s.exchange.FetchExchangeInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getExecutionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) postConnect(c *gin.Context) {
	if err := s.session.Connect(c.Request.Context()); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) postDisconnect(c *gin.Context) {
	s.session.Disconnect()
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) postEnabled(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if err := s.session.SetEnabled(c.Request.Context(), req.Enabled); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) postSettings(c *gin.Context) {
	var req domain.ExecutionSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if err := s.session.UpdateSettings(c.Request.Context(), req); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) postSymbol(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if err := s.session.SetSymbol(c.Request.Context(), req.Symbol); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.session.Status())
}
