package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"whatsapp-relay/src/go/session"
	"whatsapp-relay/src/go/whatsapp"
)

type sendRequest struct {
	To      string `json:"to"`
	Phone   string `json:"phone"` // accepted for older clients
	Message string `json:"message" binding:"required"`
}

func (r sendRequest) recipient() string {
	if to := strings.TrimSpace(r.To); to != "" {
		return to
	}
	return strings.TrimSpace(r.Phone)
}

type statusResponse struct {
	Connected   bool    `json:"connected"`
	PhoneNumber *string `json:"phoneNumber"`
	Platform    *string `json:"platform"`
}

func statusOf(snap session.Snapshot) statusResponse {
	resp := statusResponse{Connected: snap.State == session.Connected}
	if resp.Connected && snap.Account != nil {
		phone, platform := snap.Account.Phone, snap.Account.Platform
		resp.PhoneNumber = &phone
		resp.Platform = &platform
	}
	return resp
}

func qrOf(snap session.Snapshot) gin.H {
	switch {
	case snap.State == session.Connected:
		return gin.H{"connected": true}
	case snap.QR != "":
		return gin.H{"qr": snap.QR}
	default:
		return gin.H{"message": "not yet generated"}
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	state := "disconnected"
	if s.store.IsConnected() {
		state = "connected"
	}
	c.JSON(http.StatusOK, gin.H{"status": "online", "whatsapp": state})
}

func (s *Server) handleQR(c *gin.Context) {
	c.JSON(http.StatusOK, qrOf(s.store.Snapshot()))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusOf(s.store.Snapshot()))
}

func (s *Server) handleSend(c *gin.Context) {
	if !s.store.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not connected"})
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	to := req.recipient()
	if to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is required"})
		return
	}

	if err := s.messenger.SendMessage(c.Request.Context(), to, req.Message); err != nil {
		if errors.Is(err, whatsapp.ErrNotConnected) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not connected"})
			return
		}
		s.logger.Errorf("Send to %s failed: %v", to, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
