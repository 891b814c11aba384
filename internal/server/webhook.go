package server

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shoprelay/internal/platform"
	"github.com/zulandar/shoprelay/internal/platform/meta"
	"go.uber.org/zap"
)

// ackBody is the fixed acknowledgement for every event delivery.
const ackBody = "EVENT_RECEIVED"

// maxWebhookBody bounds how much of a delivery is read.
const maxWebhookBody = 1 << 20

func (s *Server) handleVerify(c *gin.Context) {
	challenge, ok := meta.Challenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		s.verifyToken,
	)
	if !ok {
		s.logger.Warn("webhook verification rejected", zap.String("path", c.Request.URL.Path))
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

// handleMetaEvent serves both Messenger and Instagram, picked by route.
func (s *Server) handleMetaEvent(c *gin.Context) {
	name := platform.Messenger
	if c.FullPath() == "/webhooks/instagram" {
		name = platform.Instagram
	}

	body, ok := s.readBody(c)
	if !ok {
		return
	}
	if s.appSecret != "" {
		if err := meta.VerifySignature(s.appSecret, c.GetHeader(meta.SignatureHeader), body); err != nil {
			s.logger.Warn("webhook signature rejected", zap.String("platform", name), zap.Error(err))
			c.String(http.StatusOK, ackBody)
			return
		}
	}
	s.deliver(c, name, body, "")
}

func (s *Server) handleTelegramEvent(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	s.deliver(c, platform.Telegram, body, c.Param("bot_id"))
}

// readBody reads the delivery. A read failure is still acknowledged.
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("read webhook body", zap.Error(err))
		c.String(http.StatusOK, ackBody)
		return nil, false
	}
	return body, true
}

// deliver hands the body to ingestion and acknowledges regardless of the
// outcome. Ingestion keeps running if the platform hangs up early.
func (s *Server) deliver(c *gin.Context, name string, body []byte, accountHint string) {
	ctx := context.WithoutCancel(c.Request.Context())
	if _, err := s.ingest.HandleWebhook(ctx, name, body, accountHint); err != nil {
		s.logger.Warn("unparseable webhook", zap.String("platform", name), zap.Error(err))
	}
	c.String(http.StatusOK, ackBody)
}
