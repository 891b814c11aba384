// Package reply turns agent output into delivered messages: it splits the
// text on pacing markers, extracts a trailing handoff directive, and sends
// and persists each segment.
package reply

import "strings"

// Markers the agent embeds in its reply text. They are never delivered.
const (
	SplitMarker   = "||SPLIT||"
	HandoffMarker = "||HANDOFF||"
)

// DefaultHandoffReason is recorded when the agent hands off without saying why.
const DefaultHandoffReason = "agent requested human assistance"

// Parsed is a reply broken into deliverable segments.
type Parsed struct {
	Segments      []string
	Handoff       bool
	HandoffReason string
}

// Parse extracts the handoff directive and split points from text. Everything
// after the first handoff marker is the reason. Blank segments are dropped.
func Parse(text string) Parsed {
	var p Parsed
	body := text
	if before, after, found := strings.Cut(text, HandoffMarker); found {
		body = before
		p.Handoff = true
		p.HandoffReason = strings.TrimSpace(strings.ReplaceAll(after, HandoffMarker, " "))
		p.HandoffReason = strings.TrimSpace(strings.ReplaceAll(p.HandoffReason, SplitMarker, " "))
		if p.HandoffReason == "" {
			p.HandoffReason = DefaultHandoffReason
		}
	}

	for _, seg := range strings.Split(body, SplitMarker) {
		if seg = strings.TrimSpace(seg); seg != "" {
			p.Segments = append(p.Segments, seg)
		}
	}
	return p
}
