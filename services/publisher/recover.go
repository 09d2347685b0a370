package publisher

import (
	"context"
	"fmt"
	"path"

	"modkit/services/mods"
)

// Descriptors persists recovered descriptors.
type Descriptors interface {
	Create(d *mods.Descriptor) (*mods.Descriptor, bool, error)
}

// LogoDir is where recovered logos are written, relative to the project root.
const LogoDir = "Generated Logos"

// RecoverDescriptor rebuilds a local descriptor from a remote profile owned by the caller. A
// descriptor that already exists under the profile name is returned unchanged.
func (p *Publisher) RecoverDescriptor(ctx context.Context, store Descriptors, modID int64) (*mods.Descriptor, error) {
	user, err := p.registry.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := p.registry.GetProfile(ctx, modID)
	if err != nil {
		return nil, err
	}
	if profile.SubmittedBy.ID != user.ID {
		return nil, &mods.AuthorizationError{
			Resource: fmt.Sprintf("mod %d", modID),
			Message:  fmt.Sprintf("You are not the creator of %q and cannot recover it.", profile.Name),
		}
	}

	d := mods.New(profile.Name, mods.ModTypeNone, "")
	d.ModID = profile.ID
	d.Summary = profile.Summary
	d.Description = profile.Description
	d.Metadata = profile.Metadata
	d.IsPublic = profile.Visible
	for _, tag := range profile.Tags {
		if t := mods.ParseModType(tag); t != mods.ModTypeNone && d.Type == mods.ModTypeNone {
			d.Type = t
			continue
		}
		d.CategoryTags = append(d.CategoryTags, tag)
	}
	if profile.Modfile != nil {
		d.Version = profile.Modfile.Version
		d.IsUploaded = profile.Modfile.Size > 0
	}

	if profile.LogoURL != "" {
		rel := path.Join(LogoDir, mods.SanitizeName(profile.Name)+"-Logo"+path.Ext(profile.LogoURL))
		d.Logo = rel
		if err := p.registry.DownloadLogo(ctx, profile, p.logoPath(d)); err != nil {
			p.logger.Warn().Err(err).Int64("mod_id", modID).Msg("logo download failed")
			d.Logo = ""
		}
	}

	stored, created, err := store.Create(d)
	if err != nil {
		return nil, err
	}
	if created {
		p.logger.Info().Str("mod", stored.Name).Int64("mod_id", modID).Msg("recovered mod descriptor")
	}
	return stored, nil
}
