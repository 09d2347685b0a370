package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modkit/pkg/bus"
)

// publishEvent sends a registry event when a bus is configured. Failures are logged only.
func (a *API) publishEvent(ctx context.Context, subject string, mod *Mod, message string) {
	if a.bus == nil || subject == "" {
		return
	}
	ev := bus.Event{
		ID:      uuid.NewString(),
		Mod:     mod.Name,
		ModID:   mod.ID,
		Message: message,
		Time:    time.Now().UTC(),
	}
	if err := a.bus.Publish(context.WithoutCancel(ctx), subject, ev); err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Int64("mod_id", mod.ID).Msg("publish event failed")
	}
}

func (a *API) audit(ctx context.Context, user User, action, obj string, details map[string]any) {
	if err := a.store.Audit(context.WithoutCancel(ctx), user.Username, action, obj, details); err != nil {
		a.logger.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}
