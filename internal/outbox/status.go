package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/roach88/ferry/internal/engine"
	"github.com/roach88/ferry/internal/store"
)

// Status is a snapshot of the queue.
type Status struct {
	Online      bool                    `json:"online"`
	Signals     map[string]bool         `json:"signals"`
	Draining    bool                    `json:"draining"`
	Pending     int                     `json:"pending"`
	NeedsReview int                     `json:"needs_review"`
	Collections []store.CollectionStats `json:"collections"`

	// LastSyncAt is zero when no pass has completed yet.
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`

	// LastPass is the report of the most recent completed pass, if any.
	LastPass *engine.Report `json:"last_pass,omitempty"`
}

// Status reads the queue state. Per-collection rows come from the store;
// connectivity and draining reflect this process only.
func (o *Outbox) Status(ctx context.Context) (Status, error) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Online:      o.monitor.IsOnline(),
		Signals:     o.monitor.Signals(),
		Draining:    o.engine.Draining(),
		Collections: stats,
	}
	for _, cs := range stats {
		st.Pending += cs.Unsynced
		st.NeedsReview += cs.NeedsReview
	}

	if v, ok, err := o.store.GetSetting(ctx, engine.SettingLastSyncAt); err != nil {
		return Status{}, err
	} else if ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.LastSyncAt = t
		}
	}

	if v, ok, err := o.store.GetSetting(ctx, engine.SettingLastPassReport); err != nil {
		return Status{}, err
	} else if ok {
		var r engine.Report
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			slog.Warn("decode last pass report", "error", err)
		} else {
			st.LastPass = &r
		}
	}
	return st, nil
}
