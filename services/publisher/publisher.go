// Package publisher drives a built mod through the registry: profile creation, per-platform modfile
// uploads and the publish transition.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"modkit/services/mods"
	"modkit/services/registry"
)

// Default logo bounds accepted by the registry.
const (
	DefaultLogoMinWidth  = 512
	DefaultLogoMinHeight = 288
)

// PublishWarning is shown before a mod is made public.
const PublishWarning = "By publishing this mod you are confirming that your mod is functional, performant, and conforms to the modding rules."

// ErrDeclined is returned when the publish confirmation is refused.
var ErrDeclined = errors.New("publish declined")

// Registry is the remote surface the publisher drives.
type Registry interface {
	CreateProfile(ctx context.Context, details registry.ProfileDetails, progress chan<- float64) (*registry.Profile, error)
	EditProfile(ctx context.Context, id int64, details registry.ProfileDetails, progress chan<- float64) (*registry.Profile, error)
	GetProfile(ctx context.Context, id int64) (*registry.Profile, error)
	UploadModfile(ctx context.Context, details registry.ModfileDetails, progress chan<- float64) (*registry.Modfile, error)
	CurrentUser(ctx context.Context) (*registry.User, error)
	DownloadLogo(ctx context.Context, profile *registry.Profile, path string) error
}

// Config wires a Publisher.
type Config struct {
	Registry Registry
	Notifier mods.Notifier
	Logger   zerolog.Logger
	// ProjectRoot resolves descriptor logo paths.
	ProjectRoot   string
	LogoMinWidth  int
	LogoMinHeight int
	// Platforms are uploaded in order. Defaults to mods.Platforms.
	Platforms []mods.Platform
	// Confirm gates Publish. Nil confirms.
	Confirm func(d *mods.Descriptor) bool
	// PageBaseURL prefixes profile name ids in PageURL.
	PageBaseURL string
}

// Publisher runs the registry workflow for one descriptor at a time.
type Publisher struct {
	registry    Registry
	notifier    mods.Notifier
	logger      zerolog.Logger
	tracer      trace.Tracer
	root        string
	minWidth    int
	minHeight   int
	platforms   []mods.Platform
	confirm     func(d *mods.Descriptor) bool
	pageBaseURL string
}

func New(cfg Config) (*Publisher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = mods.NopNotifier{}
	}
	if cfg.LogoMinWidth <= 0 {
		cfg.LogoMinWidth = DefaultLogoMinWidth
	}
	if cfg.LogoMinHeight <= 0 {
		cfg.LogoMinHeight = DefaultLogoMinHeight
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = mods.Platforms
	}
	return &Publisher{
		registry:    cfg.Registry,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger.With().Str("component", "publisher").Logger(),
		tracer:      otel.Tracer("modkit/publisher"),
		root:        cfg.ProjectRoot,
		minWidth:    cfg.LogoMinWidth,
		minHeight:   cfg.LogoMinHeight,
		platforms:   cfg.Platforms,
		confirm:     cfg.Confirm,
		pageBaseURL: strings.TrimRight(cfg.PageBaseURL, "/"),
	}, nil
}

// track runs call in its own goroutine and mirrors every progress value it sends into d and the
// notifier until it returns. d is only touched from the calling goroutine.
func (p *Publisher) track(d *mods.Descriptor, label string, call func(progress chan<- float64) error) error {
	progress := make(chan float64, 16)
	done := make(chan error, 1)
	go func() { done <- call(progress) }()
	apply := func(v float64) {
		d.SetProgress(v, label)
		p.notifier.ReportProgress(d.Progress, label)
	}
	for {
		select {
		case v := <-progress:
			apply(v)
		case err := <-done:
			for {
				select {
				case v := <-progress:
					apply(v)
				default:
					return err
				}
			}
		}
	}
}

func (p *Publisher) fail(d *mods.Descriptor, span trace.Span, prefix string, err error) error {
	d.ResetProgress()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.notifier.ReportError(prefix + ": " + err.Error())
	return err
}

func (p *Publisher) profileDetails(d *mods.Descriptor, visible bool) registry.ProfileDetails {
	return registry.ProfileDetails{
		Name:        d.Name,
		Summary:     d.Summary,
		Description: d.Description,
		Tags:        d.Tags(),
		Visible:     &visible,
		Logo:        p.logoPath(d),
	}
}

// CreateOrUpdateProfile creates the remote profile on first use and records its id; afterwards it
// mirrors the remote visibility into d and pushes the current metadata.
func (p *Publisher) CreateOrUpdateProfile(ctx context.Context, d *mods.Descriptor) error {
	ctx, span := p.tracer.Start(ctx, "publisher.CreateOrUpdateProfile", trace.WithAttributes(
		attribute.String("mod", d.Name),
		attribute.Int64("mod_id", d.ModID),
	))
	defer span.End()
	log := p.logger.With().Str("mod", d.Name).Logger()

	if err := mods.ValidateName(d.Name); err != nil {
		return p.fail(d, span, "Mod page creation failed", err)
	}

	if !d.HasProfile() {
		log.Info().Msg("creating mod profile")
		var created *registry.Profile
		err := p.track(d, "Creating Mod Profile", func(progress chan<- float64) error {
			var err error
			created, err = p.registry.CreateProfile(ctx, p.profileDetails(d, false), progress)
			return err
		})
		if created != nil {
			d.ModID = created.ID
		}
		if err != nil {
			return p.fail(d, span, "Create Mod Profile failed", err)
		}
		d.ResetProgress()
		log.Info().Int64("mod_id", d.ModID).Msg("created mod profile")
		p.notifier.ReportSuccess("Mod profile created.")
		return nil
	}

	current, err := p.registry.GetProfile(ctx, d.ModID)
	if err != nil {
		return p.fail(d, span, "Update Mod Profile failed", err)
	}
	d.IsPublic = current.Visible

	log.Info().Int64("mod_id", d.ModID).Msg("updating mod profile")
	err = p.track(d, "Updating Mod Profile", func(progress chan<- float64) error {
		_, err := p.registry.EditProfile(ctx, d.ModID, p.profileDetails(d, current.Visible), progress)
		return err
	})
	if err != nil {
		return p.fail(d, span, "Update Mod Profile failed", err)
	}
	d.ResetProgress()
	p.notifier.ReportSuccess("Mod profile updated.")
	return nil
}

// CheckUpload validates the upload preconditions in order: asset, logo, name, then a recorded and
// existing build directory for every platform. The first failure is returned.
func (p *Publisher) CheckUpload(d *mods.Descriptor) error {
	if err := mods.ValidateAsset(d.Asset); err != nil {
		return err
	}
	if err := p.checkLogo(d); err != nil {
		return err
	}
	if err := mods.ValidateName(d.Name); err != nil {
		return err
	}
	for _, platform := range p.platforms {
		if d.BuildPath(platform) == "" {
			return &mods.ValidationError{
				Field:   "build_path." + string(platform),
				Message: fmt.Sprintf("There is no %s path assigned! Try re-building.", platform.Label()),
			}
		}
	}
	for _, platform := range p.platforms {
		info, err := os.Stat(d.BuildPath(platform))
		if err != nil || !info.IsDir() {
			return &mods.ValidationError{
				Field:   "build_path." + string(platform),
				Message: fmt.Sprintf("There are no mods in the %s path! Try re-building.", platform.Label()),
			}
		}
	}
	if !d.HasProfile() {
		return &mods.ValidationError{Field: "mod_id", Message: "The mod page has not been created!"}
	}
	return nil
}

func (p *Publisher) logoPath(d *mods.Descriptor) string {
	if d.Logo == "" {
		return ""
	}
	if filepath.IsAbs(d.Logo) || p.root == "" {
		return d.Logo
	}
	return filepath.Join(p.root, filepath.FromSlash(d.Logo))
}

func (p *Publisher) checkLogo(d *mods.Descriptor) error {
	if d.Logo == "" {
		return &mods.ValidationError{Field: "logo", Message: "You must have a logo for your mod!"}
	}
	f, err := os.Open(p.logoPath(d))
	if err != nil {
		return &mods.ValidationError{Field: "logo", Message: fmt.Sprintf("Logo %s could not be read!", d.Logo)}
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return &mods.ValidationError{Field: "logo", Message: fmt.Sprintf("Logo %s is not a PNG or JPEG image!", d.Logo)}
	}
	if cfg.Width < p.minWidth || cfg.Height < p.minHeight {
		return &mods.ValidationError{
			Field:   "logo",
			Message: fmt.Sprintf("Logo must be at least %dx%d, got %dx%d!", p.minWidth, p.minHeight, cfg.Width, cfg.Height),
		}
	}
	return nil
}

// Upload sends one modfile per platform, strictly in order. The first failure aborts the rest and
// leaves IsUploaded false.
func (p *Publisher) Upload(ctx context.Context, d *mods.Descriptor) error {
	ctx, span := p.tracer.Start(ctx, "publisher.Upload", trace.WithAttributes(
		attribute.String("mod", d.Name),
		attribute.Int64("mod_id", d.ModID),
	))
	defer span.End()
	log := p.logger.With().Str("mod", d.Name).Int64("mod_id", d.ModID).Logger()

	if err := p.CheckUpload(d); err != nil {
		return p.fail(d, span, "Validation Error", err)
	}

	if d.Metadata != "" {
		metadata := d.Metadata
		if _, err := p.registry.EditProfile(ctx, d.ModID, registry.ProfileDetails{Metadata: &metadata}, nil); err != nil {
			return p.fail(d, span, "Mod Upload Failed", err)
		}
	}

	for _, platform := range p.platforms {
		if err := p.uploadPlatform(ctx, d, platform); err != nil {
			log.Error().Err(err).Str("platform", string(platform)).Msg("modfile upload failed")
			return p.fail(d, span, platform.Label()+" File upload failure", err)
		}
		log.Info().Str("platform", string(platform)).Msg("uploaded modfile")
	}

	d.ResetProgress()
	d.IsUploaded = true
	p.notifier.ReportSuccess("Mod uploaded successfully!")
	return nil
}

func (p *Publisher) uploadPlatform(ctx context.Context, d *mods.Descriptor, platform mods.Platform) error {
	ctx, span := p.tracer.Start(ctx, "publisher.upload", trace.WithAttributes(attribute.String("platform", string(platform))))
	defer span.End()

	details := registry.ModfileDetails{
		ModID:     d.ModID,
		Directory: d.BuildPath(platform),
		Version:   d.Version,
		Platform:  string(platform),
		Metadata:  d.Metadata,
	}
	label := fmt.Sprintf("Uploading %s Build", platform.Label())
	d.SetProgress(0.01, label)
	err := p.track(d, label, func(progress chan<- float64) error {
		_, err := p.registry.UploadModfile(ctx, details, progress)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Publish makes the profile visible after confirmation. The profile must exist and the mod must have
// been uploaded.
func (p *Publisher) Publish(ctx context.Context, d *mods.Descriptor) error {
	ctx, span := p.tracer.Start(ctx, "publisher.Publish", trace.WithAttributes(
		attribute.String("mod", d.Name),
		attribute.Int64("mod_id", d.ModID),
	))
	defer span.End()

	if !d.HasProfile() {
		return p.fail(d, span, "Validation Error", &mods.ValidationError{Field: "mod_id", Message: "The mod page has not been created!"})
	}
	if !d.IsUploaded {
		return p.fail(d, span, "Validation Error", &mods.ValidationError{Field: "is_uploaded", Message: "The mod files have not been uploaded!"})
	}
	if p.confirm != nil && !p.confirm(d) {
		return ErrDeclined
	}

	visible := true
	err := p.track(d, "Publishing Mod", func(progress chan<- float64) error {
		_, err := p.registry.EditProfile(ctx, d.ModID, registry.ProfileDetails{Visible: &visible}, progress)
		return err
	})
	if err != nil {
		return p.fail(d, span, "Publish mod failed", err)
	}
	d.ResetProgress()
	d.IsPublic = true
	p.logger.Info().Str("mod", d.Name).Int64("mod_id", d.ModID).Msg("published mod")
	p.notifier.ReportSuccess("Mod published.")
	return nil
}

// PageURL resolves the public page of d's profile.
func (p *Publisher) PageURL(ctx context.Context, d *mods.Descriptor) (string, error) {
	if !d.HasProfile() {
		return "", &mods.ValidationError{Field: "mod_id", Message: "The mod page has not been created!"}
	}
	profile, err := p.registry.GetProfile(ctx, d.ModID)
	if err != nil {
		return "", err
	}
	return p.pageBaseURL + "/m/" + profile.NameID, nil
}
