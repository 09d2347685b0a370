package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"modkit/pkg/bus"
	"modkit/services/registry"
)

const maxNameIDAttempts = 20

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	respondJSON(w, http.StatusOK, registry.User{ID: user.ID, Username: user.Username})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, fmt.Errorf("store: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleCreateMod(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req registry.ProfileDetails
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	mod := &Mod{
		Name:        req.Name,
		Summary:     req.Summary,
		Description: req.Description,
		Tags:        cleanTags(req.Tags),
		OwnerID:     user.ID,
	}
	if req.Metadata != nil {
		mod.Metadata = *req.Metadata
	}
	if req.Visible != nil {
		mod.Visible = *req.Visible
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	base := slugify(req.Name)
	var err error
	for attempt := 1; attempt <= maxNameIDAttempts; attempt++ {
		mod.NameID = base
		if attempt > 1 {
			mod.NameID = base + "-" + strconv.Itoa(attempt)
		}
		if err = a.store.CreateMod(ctx, mod); !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		respondStoreError(w, err, "mod")
		return
	}

	a.audit(ctx, user, "mod.create", strconv.FormatInt(mod.ID, 10), map[string]any{"name": mod.Name})
	a.logger.Info().Int64("mod_id", mod.ID).Str("name_id", mod.NameID).Str("user", user.Username).Msg("mod created")
	respondJSON(w, http.StatusCreated, a.profile(r, mod, user, nil))
}

func (a *API) handleGetMod(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	id, err := modIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	mod, err := a.store.GetMod(ctx, id)
	if err != nil {
		respondStoreError(w, err, "mod")
		return
	}
	if !mod.Visible && mod.OwnerID != user.ID {
		respondError(w, http.StatusNotFound, errors.New("mod not found"))
		return
	}

	latest, err := a.store.LatestModfile(ctx, mod.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, a.profile(r, mod, User{ID: mod.OwnerID}, latest))
}

// loadOwnedMod fetches the mod named by the URL and checks the caller owns it. It writes the
// error response itself and returns nil on failure.
func (a *API) loadOwnedMod(w http.ResponseWriter, r *http.Request) (*Mod, User) {
	user, _ := userFromContext(r.Context())
	id, err := modIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return nil, user
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	mod, err := a.store.GetMod(ctx, id)
	if err != nil {
		respondStoreError(w, err, "mod")
		return nil, user
	}
	if mod.OwnerID != user.ID {
		if !mod.Visible {
			respondError(w, http.StatusNotFound, errors.New("mod not found"))
			return nil, user
		}
		respondError(w, http.StatusForbidden, errors.New("you are not the owner of this mod"))
		return nil, user
	}
	return mod, user
}

func (a *API) handleEditMod(w http.ResponseWriter, r *http.Request) {
	mod, user := a.loadOwnedMod(w, r)
	if mod == nil {
		return
	}

	var req registry.ProfileDetails
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	wasVisible := mod.Visible
	if name := strings.TrimSpace(req.Name); name != "" {
		mod.Name = name
	}
	if req.Summary != "" {
		mod.Summary = req.Summary
	}
	if req.Description != "" {
		mod.Description = req.Description
	}
	if req.Tags != nil {
		mod.Tags = cleanTags(req.Tags)
	}
	if req.Metadata != nil {
		mod.Metadata = *req.Metadata
	}
	if req.Visible != nil {
		mod.Visible = *req.Visible
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.UpdateMod(ctx, mod); err != nil {
		respondStoreError(w, err, "mod")
		return
	}
	a.audit(ctx, user, "mod.edit", strconv.FormatInt(mod.ID, 10), map[string]any{"visible": mod.Visible})
	if mod.Visible && !wasVisible {
		a.logger.Info().Int64("mod_id", mod.ID).Msg("mod published")
		a.publishEvent(ctx, bus.SubjectPublished, mod, "mod published")
	}

	latest, err := a.store.LatestModfile(ctx, mod.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, a.profile(r, mod, user, latest))
}

func (a *API) handlePutLogo(w http.ResponseWriter, r *http.Request) {
	mod, user := a.loadOwnedMod(w, r)
	if mod == nil {
		return
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, a.config.MaxLogoBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("read logo: %w", err))
		return
	}
	if int64(len(data)) > a.config.MaxLogoBytes {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("logo exceeds %d bytes", a.config.MaxLogoBytes))
		return
	}
	var ext string
	switch http.DetectContentType(data) {
	case "image/png":
		ext = ".png"
	case "image/jpeg":
		ext = ".jpg"
	default:
		respondError(w, http.StatusUnsupportedMediaType, errors.New("logo must be a PNG or JPEG image"))
		return
	}

	sum := sha256.Sum256(data)
	key := fmt.Sprintf("logos/%d/%s%s", mod.ID, uuid.NewString(), ext)

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.objects.PutObject(ctx, a.config.Bucket, key, bytes.NewReader(data), int64(len(data)), hex.EncodeToString(sum[:])); err != nil {
		respondError(w, http.StatusBadGateway, fmt.Errorf("store logo: %w", err))
		return
	}
	mod.LogoKey = key
	if err := a.store.UpdateMod(ctx, mod); err != nil {
		respondStoreError(w, err, "mod")
		return
	}
	a.audit(ctx, user, "mod.logo", strconv.FormatInt(mod.ID, 10), map[string]any{"key": key})

	latest, err := a.store.LatestModfile(ctx, mod.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, a.profile(r, mod, user, latest))
}

func (a *API) handleGetLogo(w http.ResponseWriter, r *http.Request) {
	id, err := modIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	mod, err := a.store.GetMod(ctx, id)
	if err != nil {
		respondStoreError(w, err, "mod")
		return
	}
	if mod.LogoKey == "" {
		respondError(w, http.StatusNotFound, errors.New("mod has no logo"))
		return
	}
	url, err := a.objects.PresignGet(ctx, a.config.Bucket, mod.LogoKey, a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Errorf("presign get: %w", err))
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// profile renders the wire form of mod. owner only needs an ID; the username is resolved when it is
// the caller.
func (a *API) profile(r *http.Request, mod *Mod, owner User, latest *Modfile) registry.Profile {
	if caller, ok := userFromContext(r.Context()); ok && caller.ID == owner.ID {
		owner = caller
	}
	p := registry.Profile{
		ID:          mod.ID,
		NameID:      mod.NameID,
		Name:        mod.Name,
		Summary:     mod.Summary,
		Description: mod.Description,
		Tags:        append([]string{}, mod.Tags...),
		Metadata:    mod.Metadata,
		Visible:     mod.Visible,
		SubmittedBy: registry.User{ID: owner.ID, Username: owner.Username},
		CreatedAt:   mod.CreatedAt,
		UpdatedAt:   mod.UpdatedAt,
	}
	if mod.LogoKey != "" {
		p.LogoURL = fmt.Sprintf("%s/v1/mods/%d/logo", a.config.PublicBaseURL, mod.ID)
	}
	if latest != nil {
		wire := latest.toWire()
		p.Modfile = &wire
	}
	return p
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "mod"
	}
	return slug
}
