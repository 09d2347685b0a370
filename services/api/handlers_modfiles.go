package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"modkit/pkg/bus"
	"modkit/pkg/s3"
	"modkit/services/mods"
	"modkit/services/registry"
)

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func (f Modfile) toWire() registry.Modfile {
	return registry.Modfile{
		ID:        f.ID.String(),
		ModID:     f.ModID,
		Version:   f.Version,
		Platform:  f.Platform,
		Metadata:  f.Metadata,
		Size:      f.Size,
		SHA256:    f.SHA256,
		Status:    f.Status,
		CreatedAt: f.CreatedAt,
	}
}

func (a *API) handleRegisterModfile(w http.ResponseWriter, r *http.Request) {
	mod, user := a.loadOwnedMod(w, r)
	if mod == nil {
		return
	}

	var req registry.RegisterModfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Version = strings.TrimSpace(req.Version)
	req.SHA256 = strings.ToLower(strings.TrimSpace(req.SHA256))
	platform, err := mods.ParsePlatform(req.Platform)
	switch {
	case err != nil:
		respondError(w, http.StatusBadRequest, err)
		return
	case req.Version == "":
		respondError(w, http.StatusBadRequest, errors.New("version is required"))
		return
	case req.Size <= 0:
		respondError(w, http.StatusBadRequest, errors.New("size must be positive"))
		return
	case !sha256Pattern.MatchString(req.SHA256):
		respondError(w, http.StatusBadRequest, errors.New("sha256 must be 64 hex characters"))
		return
	}

	id := uuid.New()
	file := &Modfile{
		ID:        id,
		ModID:     mod.ID,
		Version:   req.Version,
		Platform:  string(platform),
		Metadata:  req.Metadata,
		Size:      req.Size,
		SHA256:    req.SHA256,
		Status:    registry.ModfilePending,
		ObjectKey: fmt.Sprintf("modfiles/%d/%s/%s.tar.zst", mod.ID, platform, id),
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.CreateModfile(ctx, file); err != nil {
		respondStoreError(w, err, "modfile")
		return
	}
	uploadURL, err := a.objects.PresignPut(ctx, a.config.Bucket, file.ObjectKey, a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Errorf("presign put: %w", err))
		return
	}
	a.audit(ctx, user, "modfile.register", id.String(), map[string]any{"mod_id": mod.ID, "platform": file.Platform})

	respondJSON(w, http.StatusCreated, registry.RegisterModfileResponse{
		Modfile:   file.toWire(),
		UploadURL: uploadURL,
	})
}

func (a *API) handleCompleteModfile(w http.ResponseWriter, r *http.Request) {
	mod, user := a.loadOwnedMod(w, r)
	if mod == nil {
		return
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid modfile id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	file, err := a.store.GetModfile(ctx, fileID)
	if err != nil {
		respondStoreError(w, err, "modfile")
		return
	}
	if file.ModID != mod.ID {
		respondError(w, http.StatusNotFound, errors.New("modfile not found"))
		return
	}
	if file.Status == registry.ModfileReady {
		respondJSON(w, http.StatusOK, file.toWire())
		return
	}

	size, err := a.objects.Stat(ctx, a.config.Bucket, file.ObjectKey)
	if err != nil {
		if errors.Is(err, s3.ErrNotFound) {
			respondError(w, http.StatusConflict, errors.New("modfile has not been uploaded"))
			return
		}
		respondError(w, http.StatusBadGateway, fmt.Errorf("stat modfile: %w", err))
		return
	}
	if size != file.Size {
		respondError(w, http.StatusConflict, fmt.Errorf("uploaded size %d does not match declared size %d", size, file.Size))
		return
	}

	file.Status = registry.ModfileReady
	if err := a.store.UpdateModfile(ctx, file); err != nil {
		respondStoreError(w, err, "modfile")
		return
	}
	a.metrics.observeUpload(file.Platform)
	a.audit(ctx, user, "modfile.complete", file.ID.String(), map[string]any{"mod_id": mod.ID, "size": size})
	a.publishEvent(ctx, bus.SubjectModfileNew, mod, fmt.Sprintf("%s modfile %s ready", file.Platform, file.Version))
	a.logger.Info().Int64("mod_id", mod.ID).Str("platform", file.Platform).Int64("size", size).Msg("modfile ready")

	respondJSON(w, http.StatusOK, file.toWire())
}

func (a *API) handleDownloadModfile(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid modfile id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	file, err := a.store.GetModfile(ctx, fileID)
	if err != nil {
		respondStoreError(w, err, "modfile")
		return
	}
	mod, err := a.store.GetMod(ctx, file.ModID)
	if err != nil {
		respondStoreError(w, err, "mod")
		return
	}
	if file.Status != registry.ModfileReady || (!mod.Visible && mod.OwnerID != user.ID) {
		respondError(w, http.StatusNotFound, errors.New("modfile not found"))
		return
	}

	url, err := a.objects.PresignGet(ctx, a.config.Bucket, file.ObjectKey, a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Errorf("presign get: %w", err))
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}
