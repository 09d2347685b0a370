package publisher

import (
	"context"

	"modkit/services/mods"
)

// Packer builds every platform of a descriptor.
type Packer interface {
	PackMod(ctx context.Context, d *mods.Descriptor, interactive bool) error
}

// Release packs d without prompts and uploads the result. A failed pack clears the cached
// fingerprint so the next release rebuilds.
func (p *Publisher) Release(ctx context.Context, packer Packer, d *mods.Descriptor) error {
	if err := packer.PackMod(ctx, d, false); err != nil {
		d.ClearFingerprint()
		return err
	}
	return p.Upload(ctx, d)
}
