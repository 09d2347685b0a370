// Package watcher polls mod descriptors and re-packs the ones whose content changed.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modkit/services/mods"
)

const defaultInterval = 30 * time.Second

// Descriptors is the descriptor store surface the watcher needs. mods.Store implements it.
type Descriptors interface {
	List() ([]*mods.Descriptor, error)
	Load(name string) (*mods.Descriptor, error)
	Save(d *mods.Descriptor) error
	Lock(name string) (func() error, error)
}

// Packer builds every platform of a descriptor.
type Packer interface {
	PackMod(ctx context.Context, d *mods.Descriptor, interactive bool) error
}

// ChangeDetector decides whether an asset must be rebuilt.
type ChangeDetector interface {
	NeedsRebuild(asset string, cached mods.Fingerprint) (bool, mods.Fingerprint)
}

// Snapshot is the outcome of the latest poll.
type Snapshot struct {
	Version   string
	UpdatedAt time.Time
	Checked   int
	Packed    []string
	Failed    map[string]string
	Skipped   []string
}

// Config wires a Watcher.
type Config struct {
	Store    Descriptors
	Packer   Packer
	Detector ChangeDetector
	Interval time.Duration
	Logger   zerolog.Logger
}

// Watcher re-packs changed descriptors one at a time on every tick.
type Watcher struct {
	store    Descriptors
	packer   Packer
	detector ChangeDetector
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewWatcher(cfg Config) (*Watcher, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("descriptor store is required")
	case cfg.Packer == nil:
		return nil, errors.New("packer is required")
	case cfg.Detector == nil:
		return nil, errors.New("change detector is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Watcher{
		store:    cfg.Store,
		packer:   cfg.Packer,
		detector: cfg.Detector,
		interval: cfg.Interval,
		logger:   cfg.Logger.With().Str("component", "watcher").Logger(),
	}, nil
}

// Start polls until ctx is cancelled. Per-descriptor failures are logged and do not stop the loop.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("nil watcher")
	}

	if _, err := w.Sync(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sync(ctx); err != nil {
				return err
			}
		}
	}
}

// Snapshot returns a copy of the latest poll outcome.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.snapshot
	s.Packed = append([]string(nil), s.Packed...)
	s.Skipped = append([]string(nil), s.Skipped...)
	s.Failed = make(map[string]string, len(w.snapshot.Failed))
	for k, v := range w.snapshot.Failed {
		s.Failed[k] = v
	}
	return s
}

// Sync runs one poll. Only a failure to list descriptors is returned as an error.
func (w *Watcher) Sync(ctx context.Context) (Snapshot, error) {
	descriptors, err := w.store.List()
	if err != nil {
		return Snapshot{}, err
	}

	current := Snapshot{
		Version:   uuid.NewString(),
		UpdatedAt: time.Now().UTC(),
		Failed:    map[string]string{},
	}
	for _, listed := range descriptors {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		name := listed.Name
		res, err := w.check(ctx, name)
		if res == outcomeSkipped {
			current.Skipped = append(current.Skipped, name)
			continue
		}
		current.Checked++
		switch {
		case err != nil:
			w.logger.Error().Err(err).Str("mod", name).Msg("pack failed")
			current.Failed[name] = err.Error()
		case res == outcomePacked:
			current.Packed = append(current.Packed, name)
		}
	}

	w.mu.Lock()
	w.snapshot = current
	w.mu.Unlock()
	return w.Snapshot(), nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeSkipped
	outcomePacked
)

// check re-reads the named descriptor under its lock so that state saved by other writers since
// the listing is kept, then packs it when its content changed.
func (w *Watcher) check(ctx context.Context, name string) (outcome, error) {
	unlock, err := w.store.Lock(name)
	if err != nil {
		return outcomeUnchanged, err
	}
	defer func() {
		if err := unlock(); err != nil {
			w.logger.Warn().Err(err).Str("mod", name).Msg("unlock descriptor")
		}
	}()

	d, err := w.store.Load(name)
	if err != nil {
		return outcomeUnchanged, err
	}
	if err := d.Validate(); err != nil {
		return outcomeSkipped, nil
	}
	if changed, _ := w.detector.NeedsRebuild(d.Asset, d.LastFingerprint); !changed {
		return outcomeUnchanged, nil
	}

	w.logger.Info().Str("mod", name).Msg("content changed, packing")
	packErr := w.packer.PackMod(ctx, d, false)
	if packErr != nil {
		d.ClearFingerprint()
	}
	if err := w.store.Save(d); err != nil {
		return outcomeUnchanged, errors.Join(packErr, err)
	}
	if packErr != nil {
		return outcomeUnchanged, packErr
	}
	return outcomePacked, nil
}
