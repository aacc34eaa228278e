// Package webhook exposes the HTTP surface: one delivery endpoint guarded by
// the ingestion gate, plus health. Runs execute asynchronously; the provider
// gets an acknowledgment as soon as the delivery is accepted.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/ingest"
	"github.com/autopatch-dev/autopatch/internal/ledger"
	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
)

// maxBodyBytes caps webhook payload size.
const maxBodyBytes = 1 << 20

// Handler executes one accepted event to completion.
type Handler interface {
	HandleEvent(ctx context.Context, event ingest.Event)
}

// Server wires the ingestion gate in front of the pipeline handler.
type Server struct {
	engine  *gin.Engine
	secret  string
	ledger  *ledger.Ledger
	handler Handler
	logger  hclog.Logger
}

// New builds the HTTP server. secret is the shared webhook secret used for
// signature verification.
func New(secret string, led *ledger.Ledger, handler Handler, logger hclog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		secret:  secret,
		ledger:  led,
		handler: handler,
		logger:  logger,
	}

	engine.GET("/healthz", s.health)
	engine.POST("/webhook", s.receive)
	return s
}

// Run serves until the listener fails or the process stops.
func (s *Server) Run(addr string) error {
	s.logger.Info("webhook server listening", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn("rejected oversized or unreadable delivery", "error", err)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	if err := ingest.VerifySignature(s.secret, c.GetHeader(ingest.SignatureHeader), body); err != nil {
		s.logger.Warn("rejected delivery with bad signature", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	eventType := c.GetHeader(ingest.EventHeader)
	deliveryID := c.GetHeader(ingest.DeliveryHeader)

	event, err := ingest.Decode(eventType, deliveryID, body)
	if err != nil {
		var rejected *sharedErrors.IngestionRejectedError
		if errors.As(err, &rejected) {
			// Unhandled event types are normal traffic, acknowledge them.
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": rejected.Reason})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.ledger.MarkDelivery(event.DeliveryID) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	go s.handler.HandleEvent(context.Background(), event)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "delivery": event.DeliveryID})
}
