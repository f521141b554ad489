// Package notify pushes cycle outcomes to operator chat channels. The engine
// reports each closed cycle as a typed event plus a CycleReport; the Notifier
// renders the report into a short human summary and fans it out to every
// configured sender (Telegram, Discord). Operators choose which outcomes they
// want pinged about via the event filter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event identifies a cycle outcome worth telling a human about.
type Event string

const (
	// EventCycleCompleted fires when both legs settled and the cycle closed
	// with its full result.
	EventCycleCompleted Event = "cycle_completed"
	// EventCycleTargetMissed fires when the low-premium search timed out and
	// the cycle closed on its leg-1 result alone.
	EventCycleTargetMissed Event = "cycle_target_missed"
	// EventCycleFailed fires when a cycle was aborted mid-flight.
	EventCycleFailed Event = "cycle_failed"
)

// DefaultEvents lists every cycle event, for configs that want them all.
func DefaultEvents() []string {
	return []string{
		string(EventCycleCompleted),
		string(EventCycleTargetMissed),
		string(EventCycleFailed),
	}
}

// CycleReport carries the figures of a closed cycle for message rendering.
// Fields that a given outcome never produced stay zero; Detail holds the
// failure reason or close explanation when there is one.
type CycleReport struct {
	CycleID     string
	HPSymbol    string
	LPSymbol    string
	InvestedKRW float64
	NetKRW      float64
	NetPct      float64
	Detail      string
}

// render turns the report into the title and body sent to the channels.
func (r CycleReport) render(event Event) (title, body string) {
	switch event {
	case EventCycleCompleted:
		return "Cycle completed", fmt.Sprintf(
			"cycle %s: %s/%s, invested %.0f KRW, net %.0f KRW (%.3f%%)",
			r.CycleID, r.HPSymbol, r.LPSymbol, r.InvestedKRW, r.NetKRW, r.NetPct,
		)
	case EventCycleTargetMissed:
		return "Cycle closed, target missed", fmt.Sprintf(
			"cycle %s: leg 2 found no candidate in time; keeping leg-1 result %.0f KRW (%.3f%%)",
			r.CycleID, r.NetKRW, r.NetPct,
		)
	case EventCycleFailed:
		id := r.CycleID
		if id == "" {
			id = "(unpersisted)"
		}
		return "Cycle failed", fmt.Sprintf("cycle %s: %s", id, r.Detail)
	default:
		return string(event), fmt.Sprintf("cycle %s: %s", r.CycleID, r.Detail)
	}
}

// Sender is a single delivery channel.
type Sender interface {
	// Send delivers one rendered notification.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier renders cycle reports and fans them out to its senders. Events
// outside the configured allow list are dropped silently; an empty list
// allows everything.
type Notifier struct {
	senders []Sender
	allowed map[Event]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. events comes straight
// from config, so entries are trimmed before use.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyCycle reports one cycle outcome, subject to the event filter.
func (n *Notifier) NotifyCycle(ctx context.Context, event Event, report CycleReport) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(event)),
			slog.String("cycle_id", report.CycleID),
		)
		return nil
	}
	title, body := report.render(event)
	return n.dispatch(ctx, title, body)
}

// Announce sends an operational message, bypassing the event filter. Used
// for alerts that are not tied to a single cycle, like startup and halt.
func (n *Notifier) Announce(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch fans the message out to every sender. One channel failing does not
// stop delivery to the rest; failures come back as a combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}
