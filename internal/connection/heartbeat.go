package connection

import (
	"context"
	"time"

	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

// runServerTime samples the backend clock while the session is authorized.
// A failed sample is reported with the local clock instead.
func (m *Manager) runServerTime(gen *generation) {
	ticker := time.NewTicker(m.config.TimeSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gen.ctx.Done():
			return
		case <-ticker.C:
		}

		if !m.auth.IsAuthorized() {
			continue
		}
		sample := m.sampleServerTime(gen)
		if gen.ctx.Err() != nil {
			return
		}
		m.publish(events.EventServerTime, sample)
	}
}

func (m *Manager) sampleServerTime(gen *generation) events.ServerTimePayload {
	ctx, cancel := context.WithTimeout(gen.ctx, m.config.TimeSyncInterval)
	defer cancel()

	env, err := gen.transport.Send(ctx, derivapi.Time())
	if err == nil {
		err = env.Err()
	}
	var resp derivapi.TimeResponse
	if err == nil {
		err = env.Decode(&resp)
	}
	if err != nil || resp.Time == 0 {
		m.logger.Debug("Server time unavailable, using local clock: %v", err)
		return events.ServerTimePayload{ServerTime: time.Now().UTC(), Fallback: true}
	}
	return events.ServerTimePayload{ServerTime: time.Unix(resp.Time, 0).UTC()}
}
