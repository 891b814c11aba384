package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shoprelay/internal/batch"
	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/operator"
	"github.com/zulandar/shoprelay/internal/reply"
	"github.com/zulandar/shoprelay/internal/shop"
	"github.com/zulandar/shoprelay/internal/thread"
	"go.uber.org/zap"
)

const (
	defaultThreadLimit  = 50
	defaultMessageLimit = 100
)

type threadView struct {
	ID                   uint       `json:"id"`
	ShopID               uint       `json:"shop_id"`
	Platform             string     `json:"platform"`
	PlatformUserID       string     `json:"platform_user_id"`
	CustomerName         string     `json:"customer_name,omitempty"`
	Status               string     `json:"status"`
	AgentStatus          string     `json:"agent_status"`
	AgentPausedReason    string     `json:"agent_paused_reason,omitempty"`
	LastMessageAt        time.Time  `json:"last_message_at"`
	LastHumanMessageAt   *time.Time `json:"last_human_message_at,omitempty"`
	HasHumanIntervention bool       `json:"has_human_intervention"`
	UnreadCount          int        `json:"unread_count"`
	TotalMessages        int        `json:"total_messages"`
	TotalTokens          int        `json:"total_tokens"`
	TotalCostUSD         float64    `json:"total_cost_usd"`
	ScheduledJobID       *string    `json:"scheduled_job_id,omitempty"`
}

func newThreadView(t *models.Thread) threadView {
	return threadView{
		ID:                   t.ID,
		ShopID:               t.ShopID,
		Platform:             t.Platform,
		PlatformUserID:       t.PlatformUserID,
		CustomerName:         t.CustomerName,
		Status:               t.Status,
		AgentStatus:          t.AgentStatus,
		AgentPausedReason:    t.AgentPausedReason,
		LastMessageAt:        t.LastMessageAt,
		LastHumanMessageAt:   t.LastHumanMessageAt,
		HasHumanIntervention: t.HasHumanIntervention,
		UnreadCount:          t.UnreadCount,
		TotalMessages:        t.TotalMessages,
		TotalTokens:          t.TotalTokens,
		TotalCostUSD:         t.TotalCostUSD,
		ScheduledJobID:       t.ScheduledJobID,
	}
}

type aiView struct {
	Model           string  `json:"model"`
	TotalTokens     int     `json:"total_tokens"`
	ReasoningTokens int     `json:"reasoning_tokens"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CostUSD         float64 `json:"cost_usd"`
}

type messageView struct {
	ID                uint      `json:"id"`
	ThreadID          uint      `json:"thread_id"`
	Role              string    `json:"role"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	PlatformMessageID string    `json:"platform_message_id,omitempty"`
	ToolCalls         string    `json:"tool_calls,omitempty"`
	Reasoning         string    `json:"reasoning,omitempty"`
	AI                *aiView   `json:"ai,omitempty"`
}

func newMessageView(m *models.Message) messageView {
	v := messageView{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ToolCalls: m.ToolCalls,
		Reasoning: m.Reasoning,
	}
	if m.PlatformMessageID != nil {
		v.PlatformMessageID = *m.PlatformMessageID
	}
	if m.AI.Model != "" {
		v.AI = &aiView{
			Model:           m.AI.Model,
			TotalTokens:     m.AI.TotalTokens,
			ReasoningTokens: m.AI.ReasoningTokens,
			InputTokens:     m.AI.InputTokens,
			OutputTokens:    m.AI.OutputTokens,
			CostUSD:         m.AI.CostUSD,
		}
	}
	return v
}

func messageViews(msgs []models.Message) []messageView {
	out := make([]messageView, len(msgs))
	for i := range msgs {
		out[i] = newMessageView(&msgs[i])
	}
	return out
}

func outcomeView(out *reply.Outcome) gin.H {
	body := gin.H{"messages": []messageView{}, "handoff": false}
	if out == nil {
		return body
	}
	msgs := make([]messageView, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = newMessageView(m)
	}
	body["messages"] = msgs
	body["handoff"] = out.Handoff
	if out.Handoff {
		body["handoff_reason"] = out.HandoffReason
	}
	return body
}

// fail maps domain errors to HTTP statuses and writes the error body.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, thread.ErrNotFound),
		errors.Is(err, messaging.ErrNotFound),
		errors.Is(err, shop.ErrNotFound),
		errors.Is(err, shop.ErrNoSettings),
		errors.Is(err, batch.ErrShopNotFound):
		status = http.StatusNotFound
	case errors.Is(err, operator.ErrNoAnchor):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, delivery.ErrMissingCredential):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("operator api", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// idParam parses the :id path parameter, writing 400 on failure.
func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return uint(id), true
}

// intQuery parses a positive integer query parameter, falling back to def.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + " " + strconv.Quote(raw)})
		return 0, false
	}
	return n, true
}

func (s *Server) handleListThreads(c *gin.Context) {
	shopID, ok := intQuery(c, "shop", 0)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultThreadLimit)
	if !ok {
		return
	}
	threads, err := thread.List(s.db, thread.ListFilter{
		ShopID: uint(shopID),
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]threadView, len(threads))
	for i := range threads {
		out[i] = newThreadView(&threads[i])
	}
	c.JSON(http.StatusOK, gin.H{"threads": out})
}

func (s *Server) handleGetThread(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	t, err := thread.Get(s.db, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newThreadView(t))
}

func (s *Server) handleListMessages(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultMessageLimit)
	if !ok {
		return
	}
	if _, err := thread.Get(s.db, id); err != nil {
		s.fail(c, err)
		return
	}
	msgs, err := messaging.Recent(s.db, id, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messageViews(msgs)})
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	msg, err := s.operator.SendHumanMessage(c.Request.Context(), id, req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageView(msg))
}

type retryRequest struct {
	MessageID uint `json:"message_id" binding:"required"`
}

func (s *Server) handleRetry(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.operator.Retry(c.Request.Context(), id, req.MessageID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomeView(out))
}

func (s *Server) handleResumeThread(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.operator.ResumeThread(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": id, "agent_status": models.AgentActive})
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePauseShop(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req pauseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.operator.PauseShop(id, req.Reason); err != nil {
		s.fail(c, err)
		return
	}
	s.writeShopStatus(c, id)
}

func (s *Server) handleResumeShop(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.operator.ResumeShop(id); err != nil {
		s.fail(c, err)
		return
	}
	s.writeShopStatus(c, id)
}

func (s *Server) handleShopStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	s.writeShopStatus(c, id)
}

func (s *Server) writeShopStatus(c *gin.Context, id uint) {
	st, err := s.operator.ShopStatus(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type settingsView struct {
	AIProvider      string    `json:"ai_provider"`
	AIModel         string    `json:"ai_model" binding:"required"`
	ReasoningEffort string    `json:"reasoning_effort"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	st, err := shop.LoadSettings(s.db)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsView{
		AIProvider:      st.AIProvider,
		AIModel:         st.AIModel,
		ReasoningEffort: st.ReasoningEffort,
		UpdatedAt:       st.UpdatedAt,
	})
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req settingsView
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := shop.SaveSettings(s.db, req.AIProvider, req.AIModel, req.ReasoningEffort)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsView{
		AIProvider:      st.AIProvider,
		AIModel:         st.AIModel,
		ReasoningEffort: st.ReasoningEffort,
		UpdatedAt:       st.UpdatedAt,
	})
}
