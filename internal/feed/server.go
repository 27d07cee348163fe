package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	logx "socialsim/pkg/logx"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ErrNotFound is returned by collaborators when the addressed record does not exist.
var ErrNotFound = errors.New("not found")

const (
	DefaultAddr = ":8090"
	DefaultPath = "/api/feed"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// IdentitySource exposes the resolved client identifier.
type IdentitySource interface {
	ID(ctx context.Context) string
}

// ActionSource proposes an agent's next action from its history.
type ActionSource interface {
	NextAction(ctx context.Context, agentID, history string) (string, error)
}

type ServerConfig struct {
	Addr   string
	Path   string
	Buffer int
}

// ServerDeps are optional; routes whose dependency is nil answer 404.
type ServerDeps struct {
	Health   func() map[string]any
	Identity IdentitySource
	Actions  ActionSource
}

// Server exposes the hub over HTTP:
//
//	GET  <path>                        websocket stream of Events
//	GET  /api/health                   liveness plus Health() fields
//	GET  /api/identity                 resolved client identifier
//	POST /api/agents/:id/next-action   {"history": "..."} -> {"action": "..."}
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	deps     ServerDeps
	log      logx.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(cfg ServerConfig, hub *Hub, deps ServerDeps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:  cfg,
		hub:  hub,
		deps: deps,
		log:  log.Component("feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Viewers are dashboards on other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET(cfg.Path, s.handleFeed)
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/identity", s.handleIdentity)
	r.POST("/api/agents/:id/next-action", s.handleNextAction)
	s.engine = r
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked websocket connections only see shutdown through ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("feed server listening", logx.String("addr", s.cfg.Addr), logx.String("path", s.cfg.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("feed server shutdown", logx.Err(err))
		return err
	}
	s.log.Info("feed server stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	out := map[string]any{"status": "ok", "feed": s.hub.Stats()}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleIdentity(c *gin.Context) {
	if s.deps.Identity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity disabled"})
		return
	}
	id := s.deps.Identity.ID(c.Request.Context())
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity unresolved"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

type nextActionRequest struct {
	History string `json:"history"`
}

func (s *Server) handleNextAction(c *gin.Context) {
	if s.deps.Actions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "actions disabled"})
		return
	}
	agentID := c.Param("id")
	var req nextActionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	action, err := s.deps.Actions.NextAction(c.Request.Context(), agentID, req.History)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case err != nil:
		s.log.Warn("next action failed", logx.String("agent", agentID), logx.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case action == "":
		c.JSON(http.StatusBadGateway, gin.H{"error": "no content produced"})
	default:
		c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "action": action})
	}
}

func (s *Server) handleFeed(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe(s.cfg.Buffer)
	defer unsubscribe()
	s.log.Debug("feed subscriber joined", logx.String("remote", c.Request.RemoteAddr))

	// The read loop only services control frames and detects disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(writeWait))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("feed write failed", logx.Err(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
