package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whatsapp-relay/src/go/session"
	"whatsapp-relay/src/go/whatsapp"
)

// Messenger sends outbound messages. whatsapp.Adapter implements it.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Server exposes the HTTP API and the WebSocket event stream
type Server struct {
	store     *session.Store
	messenger Messenger
	events    *whatsapp.Broadcaster
	logger    *logrus.Logger
	upgrader  websocket.Upgrader
}

// New creates a new API server
func New(store *session.Store, messenger Messenger, events *whatsapp.Broadcaster, logger *logrus.Logger) *Server {
	return &Server{
		store:     store,
		messenger: messenger,
		events:    events,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetupRoutes configures the REST routes and the event stream
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	router.GET("/", s.handleRoot)
	router.GET("/qr", s.handleQR)
	router.GET("/status", s.handleStatus)
	router.POST("/send", s.handleSend)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws/events", s.handleEventStream)

	return router
}

// handleEventStream streams lifecycle notifications and answers JSON-RPC
// requests over a single WebSocket.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.logger.Info("Event stream client connected")

	var writeMu sync.Mutex
	done := make(chan struct{})
	handler := NewRPCHandler(s, s.logger)

	notifications, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	// Send initial status before any forwarded event
	writeMu.Lock()
	err = conn.WriteJSON(RPCRequest{
		JSONRPC: "2.0",
		Method:  "event.status",
		Params:  mustMarshal(statusOf(s.store.Snapshot())),
	})
	writeMu.Unlock()
	if err != nil {
		s.logger.Debugf("Failed to send initial status: %v", err)
		return
	}

	go handler.ForwardEvents(conn, &writeMu, notifications, done)

	for {
		var req RPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			s.logger.Debugf("Event stream client disconnected: %v", err)
			close(done)
			return
		}

		s.logger.Debugf("RPC request: %s", req.Method)

		resp := handler.HandleRequest(c.Request.Context(), &req)
		if req.ID != nil {
			writeMu.Lock()
			err := conn.WriteJSON(resp)
			writeMu.Unlock()
			if err != nil {
				s.logger.Debugf("Failed to write RPC response: %v", err)
			}
		}
	}
}
