// Package alert notifies operators about handoffs and batch failures on chat
// platforms (Slack, Discord).
package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/shoprelay/internal/models"
	"go.uber.org/zap"
)

// Severity levels.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Color constants for alert severity.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// SeverityColor maps a severity to a sidebar color.
func SeverityColor(severity string) string {
	switch severity {
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// Alert is one operator notification.
type Alert struct {
	Title    string
	Body     string
	Severity string
	Fields   []Field
}

// Field is a key-value pair displayed with an alert.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Nop discards alerts.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Alert) error { return nil }

// Multi fans an alert out to every notifier. Delivery failures are logged and
// never returned, so alerting cannot fail the operation that raised it.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMulti creates a Multi. A nil logger discards failure logs.
func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

// Len returns the number of configured destinations.
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify implements Notifier.
func (m *Multi) Notify(ctx context.Context, a Alert) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			m.logger.Warn("alert delivery failed",
				zap.String("title", a.Title),
				zap.String("notifier", fmt.Sprintf("%T", n)),
				zap.Error(err))
		}
	}
	return nil
}

// Handoff builds the alert raised when a thread is escalated to a human.
func Handoff(t *models.Thread, reason string) Alert {
	return Alert{
		Title:    fmt.Sprintf("Thread %d needs a human", t.ID),
		Body:     reason,
		Severity: SeverityWarning,
		Fields:   threadFields(t),
	}
}

// BatchFailure builds the alert raised when a batch job fails.
func BatchFailure(t *models.Thread, threadID uint, cause error) Alert {
	a := Alert{
		Title:    fmt.Sprintf("Batch failed for thread %d", threadID),
		Body:     cause.Error(),
		Severity: SeverityError,
	}
	if t != nil {
		a.Fields = threadFields(t)
	}
	return a
}

func threadFields(t *models.Thread) []Field {
	fields := []Field{
		{Name: "Platform", Value: t.Platform, Short: true},
		{Name: "Customer", Value: customer(t), Short: true},
	}
	if t.Shop.Name != "" {
		fields = append(fields, Field{Name: "Shop", Value: t.Shop.Name, Short: true})
	}
	return fields
}

func customer(t *models.Thread) string {
	if t.CustomerName != "" {
		return t.CustomerName
	}
	return t.PlatformUserID
}

// Recorder implements Notifier for testing.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// FailWith makes subsequent Notify calls return err (the alert is still recorded).
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
