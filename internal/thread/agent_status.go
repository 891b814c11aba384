package thread

import (
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
)

// Gated reports whether the thread's agent status suppresses automated
// replies. pending_human is informational and does not gate.
func Gated(t *models.Thread) bool {
	return t.AgentStatus == models.AgentPaused || t.AgentStatus == models.AgentHandoff
}

// SetAgentStatus moves a thread to status. Pausing statuses record the time
// and reason; returning to active clears them.
func SetAgentStatus(db *gorm.DB, id uint, status, reason string) error {
	updates := map[string]interface{}{"agent_status": status}
	switch status {
	case models.AgentActive:
		updates["agent_paused_at"] = nil
		updates["agent_paused_reason"] = ""
	case models.AgentPaused, models.AgentHandoff, models.AgentPendingHuman:
		updates["agent_paused_at"] = time.Now()
		updates["agent_paused_reason"] = reason
	default:
		return fmt.Errorf("thread: invalid agent status %q", status)
	}

	result := db.Model(&models.Thread{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("thread: set agent status %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("thread: set agent status %d: %w", id, ErrNotFound)
	}
	return nil
}

// Handoff escalates the thread to a human with the agent's stated reason.
func Handoff(db *gorm.DB, id uint, reason string) error {
	return SetAgentStatus(db, id, models.AgentHandoff, reason)
}

// Resume hands the thread back to the automated responder.
func Resume(db *gorm.DB, id uint) error {
	return SetAgentStatus(db, id, models.AgentActive, "")
}

// Activity describes one appended message for bookkeeping.
type Activity struct {
	Role    string
	At      time.Time
	Tokens  int
	CostUSD float64
}

// RecordActivity updates the thread's counters for an appended message. User
// messages increment the unread count and reopen an archived or resolved
// thread; replies reset the count.
func RecordActivity(db *gorm.DB, id uint, a Activity) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	updates := map[string]interface{}{
		"last_message_at": at,
		"total_messages":  gorm.Expr("total_messages + 1"),
		"total_tokens":    gorm.Expr("total_tokens + ?", a.Tokens),
		"total_cost_usd":  gorm.Expr("total_cost_usd + ?", a.CostUSD),
	}
	switch a.Role {
	case models.RoleUser:
		updates["unread_count"] = gorm.Expr("unread_count + 1")
		updates["status"] = models.ThreadActive
	case models.RoleHumanAgent:
		updates["unread_count"] = 0
		updates["last_human_message_at"] = at
		updates["has_human_intervention"] = true
	default:
		updates["unread_count"] = 0
	}

	result := db.Model(&models.Thread{}).Where("id = ?", id).UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("thread: record activity %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("thread: record activity %d: %w", id, ErrNotFound)
	}
	return nil
}
