package hub

import (
	"context"
	"time"
)

// StartHeartbeat runs the liveness sweep every HeartbeatInterval until ctx
// ends.
func (h *Hub) StartHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.sweep(ctx, now)
			}
		}
	}()
}

// sweep evicts clients with no activity within ClientTimeout and pings the
// rest. Outbound traffic never counts as activity.
func (h *Hub) sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-h.cfg.ClientTimeout)

	h.mu.RLock()
	var stale, live []*Client
	for _, c := range h.clients {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, c)
		} else {
			live = append(live, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range live {
		c.requestPing()
	}

	evicted := 0
	for _, c := range stale {
		remaining, removed := h.detach(c)
		if !removed {
			continue
		}
		evicted++
		h.metrics.IncEvictedClients()
		h.logger.Infow("client evicted",
			"client_id", c.ID,
			"session_id", c.SessionID,
			"idle_ms", now.Sub(c.LastActivity()).Milliseconds(),
		)
		if remaining == 0 && h.cfg.EndIdleSessions {
			if err := h.router.EndSession(ctx, c.SessionID); err != nil {
				h.logger.Warnw("idle session end failed", "session_id", c.SessionID, "error", err)
			}
		}
	}
	return evicted
}
