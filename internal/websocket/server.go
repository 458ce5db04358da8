// Package websocket serves the relay over websockets and answers relay
// information requests on the same endpoint.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Engine consumes inbound frames for a session.
type Engine interface {
	OnConnect(sessionID string)
	HandleFrame(ctx context.Context, sessionID string, frame []byte)
}

// Sessions is the subset of the registry the server uses.
type Sessions interface {
	Create(transport session.Transport) (*session.Session, error)
	Destroy(id string)
}

// Options tunes connection handling.
type Options struct {
	// ReadLimit bounds a single inbound frame in bytes.
	ReadLimit int64
	// PingInterval is how often the server pings idle clients.
	PingInterval time.Duration
	// PongWait is how long the server waits for any client traffic.
	PongWait time.Duration
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration
	// Banner is returned to plain HTTP requests.
	Banner string
}

const (
	defaultReadLimit    = 1 << 17
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	nostrJSON           = "application/nostr+json"
)

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Banner == "" {
		o.Banner = "Please use a Nostr client to connect."
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // relays are public
	},
}

// Server accepts relay connections.
type Server struct {
	sessions Sessions
	engine   Engine
	info     Info
	opts     Options

	wg sync.WaitGroup
}

// NewServer creates a server that hands frames to engine.
func NewServer(sessions Sessions, engine Engine, info Info, opts Options) *Server {
	return &Server{
		sessions: sessions,
		engine:   engine,
		info:     info.withDefaults(),
		opts:     opts.withDefaults(),
	}
}

// Handle serves GET /: websocket upgrades, the information document, or a
// plain-text banner.
func (s *Server) Handle(c *gin.Context) {
	switch {
	case websocket.IsWebSocketUpgrade(c.Request):
		s.serveWebSocket(c)
	case strings.Contains(c.GetHeader("Accept"), nostrJSON):
		s.serveInfo(c)
	default:
		c.String(http.StatusOK, s.opts.Banner)
	}
}

func (s *Server) serveInfo(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "*")
	c.Header("Access-Control-Allow-Methods", "GET")
	body, err := json.Marshal(s.info)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, nostrJSON, body)
}

func (s *Server) serveWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	transport := &conn{ws: ws, opts: s.opts, cancel: cancel}
	sess, err := s.sessions.Create(transport)
	if err != nil {
		logger.Errorf("[ws] failed to create session: %v", err)
		_ = transport.Close()
		return
	}
	logger.Infof("[ws] client connected: %s from %s", sess.ID(), c.ClientIP())

	s.wg.Add(1)
	defer s.wg.Done()

	go transport.writeLoop(sess)
	s.engine.OnConnect(sess.ID())
	transport.readLoop(ctx, sess.ID(), s.engine.HandleFrame)

	s.sessions.Destroy(sess.ID())
	logger.Infof("[ws] client disconnected: %s", sess.ID())
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
