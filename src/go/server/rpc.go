package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whatsapp-relay/src/go/whatsapp"
)

// JSON-RPC 2.0 message types
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeServerError    = -32000
	codeNotConnected   = -32001
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// RPCHandler processes JSON-RPC requests received on the event stream
type RPCHandler struct {
	server *Server
	logger *logrus.Logger
}

// NewRPCHandler creates a new RPC handler
func NewRPCHandler(server *Server, logger *logrus.Logger) *RPCHandler {
	return &RPCHandler{
		server: server,
		logger: logger,
	}
}

// HandleRequest processes a JSON-RPC request and returns a response
func (h *RPCHandler) HandleRequest(ctx context.Context, req *RPCRequest) RPCResponse {
	resp := RPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "status":
		resp.Result = statusOf(h.server.store.Snapshot())

	case "qr":
		resp.Result = qrOf(h.server.store.Snapshot())

	case "send":
		if !h.server.store.IsConnected() {
			resp.Error = &RPCError{Code: codeNotConnected, Message: "not connected"}
			break
		}
		var p sendRequest
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp.Error = &RPCError{Code: codeInvalidParams, Message: "Invalid params: " + err.Error()}
			break
		}
		to := p.recipient()
		if to == "" || strings.TrimSpace(p.Message) == "" {
			resp.Error = &RPCError{Code: codeInvalidParams, Message: "Invalid params: to and message are required"}
			break
		}
		if err := h.server.messenger.SendMessage(ctx, to, p.Message); err != nil {
			if errors.Is(err, whatsapp.ErrNotConnected) {
				resp.Error = &RPCError{Code: codeNotConnected, Message: "not connected"}
			} else {
				resp.Error = &RPCError{Code: codeServerError, Message: err.Error()}
			}
			break
		}
		resp.Result = map[string]bool{"success": true}

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: "Method not found: " + req.Method}
	}

	return resp
}

// ForwardEvents sends lifecycle notifications as JSON-RPC notifications
func (h *RPCHandler) ForwardEvents(conn *websocket.Conn, mu *sync.Mutex, notifications <-chan whatsapp.Notification, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			notif := RPCRequest{
				JSONRPC: "2.0",
				Method:  "event." + n.Type,
				Params:  mustMarshal(n.Data),
			}
			mu.Lock()
			if err := conn.WriteJSON(notif); err != nil {
				mu.Unlock()
				h.logger.Errorf("Failed to send event: %v", err)
				return
			}
			mu.Unlock()
		}
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
