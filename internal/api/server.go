package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/config"
	"github.com/slopcrew-project/slopcrew/internal/db"
	intnet "github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/server"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// RaceArchive lists recently ranked races.
type RaceArchive interface {
	Recent(ctx context.Context, limit int) ([]db.RaceRecord, error)
}

// KickArchive lists recorded kicks by address.
type KickArchive interface {
	ByAddress(ctx context.Context, address string) ([]db.Kick, error)
}

// Server is the HTTP surface of the relay: the websocket endpoint the
// plugin connects to, plus public and admin JSON routes.
type Server struct {
	cfg      *config.Config
	relay    *server.Server
	races    RaceArchive
	kicks    KickArchive
	upgrader *websocket.Upgrader
	wsOpts   intnet.Options
	logger   zerolog.Logger

	// baseCtx outlives individual requests; websocket sessions are bound
	// to it rather than to the upgrade request.
	baseCtx context.Context

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, relay *server.Server) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		relay:    relay,
		upgrader: intnet.NewUpgrader(cfg.GetSecurity().AllowedOrigins),
		wsOpts:   cfg.TransportOptions(),
		logger:   util.ComponentLogger("api"),
		baseCtx:  context.Background(),
	}
	s.router = s.buildRouter()
	return s
}

// SetArchives injects the optional database-backed archives. Either may be
// nil when the database is disabled.
func (s *Server) SetArchives(races RaceArchive, kicks KickArchive) {
	s.races = races
	s.kicks = kicks
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	addr := s.cfg.GetServer().ListenAddr

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := intnet.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP and websocket server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	sec := s.cfg.GetSecurity()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	// Registered ahead of CORS and rate limiting; the upgrader checks origins.
	router.GET("/ws", s.handleWebSocket)

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(sec.RateLimitRPS, sec.RateLimitBurst).Middleware())

	router.GET("/metrics", s.handleMetrics)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/stages", s.handleStages)
		monitor.GET("/ticks/lag", s.handleTickLag)
		monitor.GET("/races/live", s.handleLiveRaces)
		monitor.GET("/races/recent", s.handleRecentRaces)
	}

	admin := router.Group("/admin")
	admin.Use(RequireToken(sec.AdminToken))
	{
		admin.GET("/players", s.handleAdminPlayers)
		admin.GET("/players/detail", s.handleAdminPlayerDetail)
		admin.POST("/players/:id/kick", s.handleKick)
		admin.GET("/kicks", s.handleKicks)
		admin.GET("/config", s.handleGetConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
