package notify

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modkit/pkg/bus"
)

// EventPublisher is the part of pkg/bus the notifier needs.
type EventPublisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Bus forwards reports for one mod to the lifecycle event stream. Progress events are emitted at
// most once per whole percent. Publish failures are logged and otherwise ignored.
type Bus struct {
	ctx    context.Context
	pub    EventPublisher
	mod    string
	modID  int64
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	lastPct int
}

func NewBus(ctx context.Context, pub EventPublisher, mod string, modID int64, logger zerolog.Logger) *Bus {
	return &Bus{
		ctx:     ctx,
		pub:     pub,
		mod:     mod,
		modID:   modID,
		logger:  logger,
		now:     time.Now,
		lastPct: -1,
	}
}

func (b *Bus) ReportProgress(progress float64, label string) {
	pct := int(math.Floor(progress * 100))
	b.mu.Lock()
	if pct == b.lastPct {
		b.mu.Unlock()
		return
	}
	b.lastPct = pct
	b.mu.Unlock()
	b.publish(bus.SubjectProgress, bus.Event{Progress: progress, Label: label})
}

func (b *Bus) ReportError(message string) {
	b.publish(bus.SubjectFailed, bus.Event{Message: message})
}

func (b *Bus) ReportSuccess(message string) {
	b.publish(bus.SubjectSucceeded, bus.Event{Message: message})
}

func (b *Bus) publish(subject string, ev bus.Event) {
	ev.ID = uuid.NewString()
	ev.Mod = b.mod
	ev.ModID = b.modID
	ev.Time = b.now().UTC()
	if err := b.pub.Publish(b.ctx, subject, ev); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Str("mod", b.mod).Msg("publish event failed")
	}
}
