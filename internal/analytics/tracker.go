package analytics

import (
	"context"
	"log/slog"
)

const serverClientID = "metagen-server"

// Tracker reports orchestrator events through a Forwarder. Delivery runs
// detached from the caller and failures are only logged.
type Tracker struct {
	fwd    *Forwarder
	logger *slog.Logger
	userID string
	sync   bool
}

func NewTracker(fwd *Forwarder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{fwd: fwd, logger: logger}
}

// ForUser returns a tracker that attributes events to userID.
func (t *Tracker) ForUser(userID string) *Tracker {
	cp := *t
	cp.userID = userID
	return &cp
}

func (t *Tracker) Track(ctx context.Context, name string, params map[string]any) {
	if !t.fwd.IsConfigured() {
		return
	}
	p := Payload{
		ClientID: serverClientID,
		UserID:   t.userID,
		Events:   []Event{{Name: name, Params: params}},
	}
	send := func() {
		if err := t.fwd.Forward(context.WithoutCancel(ctx), p); err != nil {
			t.logger.Warn("analytics_forward_failed", "event", name, "error", err)
		}
	}
	if t.sync {
		send()
		return
	}
	go send()
}
