// Package fingerprint decides whether a content asset must be rebuilt by comparing the hashes of
// its dependency closure against the closure recorded at the last successful build.
package fingerprint

import (
	"github.com/rs/zerolog"

	"modkit/services/mods"
)

// Source enumerates and hashes project assets.
type Source interface {
	// Dependencies returns the transitive closure of asset, asset included, in a deterministic order.
	Dependencies(asset string) ([]string, error)
	Hash(asset string) (string, error)
}

// Detector computes fingerprints from a Source.
type Detector struct {
	src    Source
	logger zerolog.Logger
}

func NewDetector(src Source, logger zerolog.Logger) *Detector {
	return &Detector{src: src, logger: logger.With().Str("component", "fingerprint").Logger()}
}

// Compute fingerprints asset. Dependencies that cannot be hashed are recorded with an empty hash,
// which never compares equal. When the closure itself cannot be enumerated the result holds a
// single unreadable entry for asset.
func (d *Detector) Compute(asset string) mods.Fingerprint {
	deps, err := d.src.Dependencies(asset)
	if err != nil {
		d.logger.Warn().Err(err).Str("asset", asset).Msg("dependency enumeration failed")
		return mods.Fingerprint{{Path: asset}}
	}
	out := make(mods.Fingerprint, 0, len(deps))
	for _, dep := range deps {
		hash, err := d.src.Hash(dep)
		if err != nil {
			d.logger.Debug().Err(err).Str("dependency", dep).Msg("unreadable dependency")
			hash = ""
		}
		out = append(out, mods.FingerprintEntry{Path: dep, Hash: hash})
	}
	return out
}

// NeedsRebuild computes the current fingerprint of asset and compares it with cached. The current
// fingerprint is returned so the caller can commit it once the build succeeds.
func (d *Detector) NeedsRebuild(asset string, cached mods.Fingerprint) (bool, mods.Fingerprint) {
	current := d.Compute(asset)
	changed := Changed(cached, current)
	d.logger.Debug().
		Str("asset", asset).
		Int("dependencies", len(current)).
		Bool("changed", changed).
		Msg("fingerprint compared")
	return changed, current
}

// Changed reports whether current differs from cached. A length mismatch, a position-wise hash
// mismatch or any unreadable entry counts as a change. A nil or empty cached fingerprint always
// changes.
func Changed(cached, current mods.Fingerprint) bool {
	if len(cached) == 0 || len(cached) != len(current) {
		return true
	}
	for i := range current {
		if current[i].Hash == "" || cached[i].Hash == "" {
			return true
		}
		if cached[i].Hash != current[i].Hash {
			return true
		}
	}
	return false
}
