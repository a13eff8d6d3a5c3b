// Package presence marks users offline once their heartbeats stop.
package presence

import (
	"context"
	"log/slog"
	"time"

	"agileflow/api/internal/realtime"
)

type Store interface {
	MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Publisher interface {
	Publish(ctx context.Context, e realtime.Event) error
}

// Sweeper flips users to offline when last_seen_at is older than timeout and
// announces each change on the realtime feed.
type Sweeper struct {
	store    Store
	events   Publisher
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store Store, events Publisher, timeout time.Duration) *Sweeper {
	interval := timeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{
		store:    store,
		events:   events,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on a ticker until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("presence sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass and returns the ids marked offline.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	ids, err := s.store.MarkStaleOffline(ctx, s.now().Add(-s.timeout))
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		for _, id := range ids {
			record := map[string]any{"id": id, "online_status": false}
			e, err := realtime.NewEvent(realtime.TableUsers, realtime.EventUpdate, record, "")
			if err != nil {
				continue
			}
			if err := s.events.Publish(ctx, e); err != nil {
				slog.Warn("presence publish failed", "user_id", id, "error", err)
			}
		}
	}
	if len(ids) > 0 {
		slog.Info("presence sweep", "offline", len(ids))
	}
	return ids, nil
}
