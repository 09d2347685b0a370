package publisher

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"modkit/services/mods"
	"modkit/services/registry"
)

type fakeRegistry struct {
	mu sync.Mutex

	calls      []string
	profile    registry.Profile
	user       registry.User
	created    []registry.ProfileDetails
	edits      []registry.ProfileDetails
	uploads    []registry.ModfileDetails
	failCreate error
	failLogo   error
	failEdit   error
	failUpload map[string]error
}

func (f *fakeRegistry) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRegistry) CreateProfile(_ context.Context, details registry.ProfileDetails, progress chan<- float64) (*registry.Profile, error) {
	f.record("create")
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	progress <- 0.5
	f.created = append(f.created, details)
	profile := &registry.Profile{ID: 99, Name: details.Name}
	if f.failLogo != nil {
		return profile, f.failLogo
	}
	return profile, nil
}

func (f *fakeRegistry) EditProfile(_ context.Context, id int64, details registry.ProfileDetails, progress chan<- float64) (*registry.Profile, error) {
	f.record("edit")
	if f.failEdit != nil {
		return nil, f.failEdit
	}
	f.edits = append(f.edits, details)
	if progress != nil {
		progress <- 1
	}
	return &registry.Profile{ID: id}, nil
}

func (f *fakeRegistry) GetProfile(context.Context, int64) (*registry.Profile, error) {
	f.record("get")
	p := f.profile
	return &p, nil
}

func (f *fakeRegistry) UploadModfile(_ context.Context, details registry.ModfileDetails, progress chan<- float64) (*registry.Modfile, error) {
	f.record("upload " + details.Platform)
	if err := f.failUpload[details.Platform]; err != nil {
		return nil, err
	}
	progress <- 0.25
	progress <- 1
	f.uploads = append(f.uploads, details)
	return &registry.Modfile{ID: "mf", Platform: details.Platform, Status: registry.ModfileReady}, nil
}

func (f *fakeRegistry) CurrentUser(context.Context) (*registry.User, error) {
	f.record("me")
	u := f.user
	return &u, nil
}

func (f *fakeRegistry) DownloadLogo(_ context.Context, _ *registry.Profile, path string) error {
	f.record("logo")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("logo"), 0o644)
}

type recordingNotifier struct {
	progress []float64
	errors   []string
	success  []string
}

func (n *recordingNotifier) ReportProgress(p float64, _ string) { n.progress = append(n.progress, p) }
func (n *recordingNotifier) ReportError(msg string)            { n.errors = append(n.errors, msg) }
func (n *recordingNotifier) ReportSuccess(msg string)          { n.success = append(n.success, msg) }

type harness struct {
	root     string
	registry *fakeRegistry
	notifier *recordingNotifier
	pub      *Publisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		root:     t.TempDir(),
		registry: &fakeRegistry{failUpload: map[string]error{}},
		notifier: &recordingNotifier{},
	}
	pub, err := New(Config{
		Registry:    h.registry,
		Notifier:    h.notifier,
		Logger:      zerolog.Nop(),
		ProjectRoot: h.root,
		PageBaseURL: "https://mods.example.com/",
	})
	require.NoError(t, err)
	h.pub = pub
	return h
}

func writeLogo(t *testing.T, root, rel string, w, h int) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

// uploadable returns a descriptor that passes every upload precondition.
func (h *harness) uploadable(t *testing.T) *mods.Descriptor {
	t.Helper()
	writeLogo(t, h.root, "logo.png", 512, 288)
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
	d.ModID = 42
	d.Logo = "logo.png"
	d.Metadata = `{"bounds":"(0.50, 0.50, 0.50)"}`
	for _, p := range mods.Platforms {
		dir := filepath.Join(h.root, "Mods", "Crate", string(p))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		d.SetBuildPath(p, dir)
	}
	return d
}

func TestCreateProfileStoresID(t *testing.T) {
	h := newHarness(t)
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
	d.CategoryTags = []string{"Props"}

	require.NoError(t, h.pub.CreateOrUpdateProfile(context.Background(), d))
	require.Equal(t, int64(99), d.ModID)
	require.Equal(t, []string{"create"}, h.registry.calls)
	require.Equal(t, []string{"Spawnable", "Props"}, h.registry.created[0].Tags)
	require.False(t, *h.registry.created[0].Visible)
	require.Contains(t, h.notifier.progress, 0.5)
	require.Zero(t, d.Progress)
}

func TestCreateProfileFailureKeepsUnassignedID(t *testing.T) {
	h := newHarness(t)
	h.registry.failCreate = &mods.RegistryError{Op: "create profile", Status: 400, Message: "summary too short"}
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")

	err := h.pub.CreateOrUpdateProfile(context.Background(), d)
	var regErr *mods.RegistryError
	require.True(t, errors.As(err, &regErr))
	require.Equal(t, mods.UnassignedModID, d.ModID)
	require.Len(t, h.notifier.errors, 1)
	require.Contains(t, h.notifier.errors[0], "summary too short")
}

func TestCreateProfileKeepsIDWhenLogoUploadFails(t *testing.T) {
	h := newHarness(t)
	h.registry.failLogo = &mods.RegistryError{Op: "upload logo", Status: 500, Message: "logo storage down"}
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")

	err := h.pub.CreateOrUpdateProfile(context.Background(), d)
	require.Error(t, err)
	require.Equal(t, int64(99), d.ModID)
	require.Len(t, h.notifier.errors, 1)

	h.registry.failLogo = nil
	require.NoError(t, h.pub.CreateOrUpdateProfile(context.Background(), d))
	require.Len(t, h.registry.created, 1)
	require.Equal(t, []string{"create", "get", "edit"}, h.registry.calls)
}

func TestUpdateProfileMirrorsRemoteVisibility(t *testing.T) {
	h := newHarness(t)
	h.registry.profile = registry.Profile{ID: 42, Visible: true}
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
	d.ModID = 42

	require.NoError(t, h.pub.CreateOrUpdateProfile(context.Background(), d))
	require.True(t, d.IsPublic)
	require.Equal(t, []string{"get", "edit"}, h.registry.calls)
	require.True(t, *h.registry.edits[0].Visible)
	require.Equal(t, "Crate", h.registry.edits[0].Name)
}

func TestUpdateProfileFailureLeavesStateAlone(t *testing.T) {
	h := newHarness(t)
	h.registry.failEdit = &mods.RegistryError{Op: "edit profile", Message: "boom"}
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
	d.ModID = 42

	require.Error(t, h.pub.CreateOrUpdateProfile(context.Background(), d))
	require.Equal(t, int64(42), d.ModID)
	require.False(t, d.IsPublic)
}

func TestUploadAllPlatformsInOrder(t *testing.T) {
	h := newHarness(t)
	d := h.uploadable(t)

	require.NoError(t, h.pub.Upload(context.Background(), d))
	require.True(t, d.IsUploaded)
	require.Zero(t, d.Progress)
	require.Equal(t, []string{"edit", "upload windows", "upload android"}, h.registry.calls)
	require.Equal(t, d.Metadata, *h.registry.edits[0].Metadata)
	require.Equal(t, d.BuildPath(mods.PlatformWindows), h.registry.uploads[0].Directory)
	require.Equal(t, "0.0.1", h.registry.uploads[1].Version)
	require.Equal(t, []string{"Mod uploaded successfully!"}, h.notifier.success)
}

func TestUploadStopsAtFirstPlatformFailure(t *testing.T) {
	h := newHarness(t)
	h.registry.failUpload["windows"] = &mods.RegistryError{Op: "upload modfile", Message: "quota exceeded"}
	d := h.uploadable(t)

	err := h.pub.Upload(context.Background(), d)
	var regErr *mods.RegistryError
	require.True(t, errors.As(err, &regErr))
	require.False(t, d.IsUploaded)
	require.Zero(t, d.Progress)
	require.Equal(t, []string{"edit", "upload windows"}, h.registry.calls)
	require.Contains(t, h.notifier.errors[0], "Windows File upload failure")
}

func TestUploadPreconditionOrder(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(t *testing.T, h *harness, d *mods.Descriptor)
		field string
	}{
		{
			name:  "missing asset wins over everything",
			edit:  func(_ *testing.T, _ *harness, d *mods.Descriptor) { d.Asset = ""; d.Logo = ""; d.Name = "" },
			field: "asset",
		},
		{
			name: "logo before android path",
			edit: func(_ *testing.T, _ *harness, d *mods.Descriptor) {
				d.Logo = ""
				delete(d.BuildPaths, mods.PlatformAndroid)
			},
			field: "logo",
		},
		{
			name: "logo too small",
			edit: func(t *testing.T, h *harness, d *mods.Descriptor) {
				writeLogo(t, h.root, "small.png", 256, 144)
				d.Logo = "small.png"
			},
			field: "logo",
		},
		{
			name:  "name after logo",
			edit:  func(_ *testing.T, _ *harness, d *mods.Descriptor) { d.Name = " " },
			field: "name",
		},
		{
			name:  "missing android path",
			edit:  func(_ *testing.T, _ *harness, d *mods.Descriptor) { delete(d.BuildPaths, mods.PlatformAndroid) },
			field: "build_path.android",
		},
		{
			name: "path recorded but removed",
			edit: func(t *testing.T, _ *harness, d *mods.Descriptor) {
				require.NoError(t, os.RemoveAll(d.BuildPath(mods.PlatformWindows)))
			},
			field: "build_path.windows",
		},
		{
			name:  "profile missing",
			edit:  func(_ *testing.T, _ *harness, d *mods.Descriptor) { d.ModID = mods.UnassignedModID },
			field: "mod_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			d := h.uploadable(t)
			tt.edit(t, h, d)

			err := h.pub.Upload(context.Background(), d)
			var vErr *mods.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			require.Equal(t, tt.field, vErr.Field)
			require.Empty(t, h.registry.calls)
			require.False(t, d.IsUploaded)
		})
	}
}

func TestPublish(t *testing.T) {
	h := newHarness(t)
	d := h.uploadable(t)
	d.IsUploaded = true

	require.NoError(t, h.pub.Publish(context.Background(), d))
	require.True(t, d.IsPublic)
	require.Equal(t, []string{"edit"}, h.registry.calls)
	require.True(t, *h.registry.edits[0].Visible)
	require.Empty(t, h.registry.edits[0].Name)
}

func TestPublishGating(t *testing.T) {
	t.Run("no profile", func(t *testing.T) {
		h := newHarness(t)
		d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
		d.IsUploaded = true
		err := h.pub.Publish(context.Background(), d)
		var vErr *mods.ValidationError
		require.True(t, errors.As(err, &vErr))
		require.Equal(t, "mod_id", vErr.Field)
		require.Equal(t, "The mod page has not been created!", vErr.Message)
		require.Empty(t, h.registry.calls)
	})
	t.Run("not uploaded", func(t *testing.T) {
		h := newHarness(t)
		d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
		d.ModID = 42
		err := h.pub.Publish(context.Background(), d)
		var vErr *mods.ValidationError
		require.True(t, errors.As(err, &vErr))
		require.Equal(t, "is_uploaded", vErr.Field)
		require.Empty(t, h.registry.calls)
	})
	t.Run("declined", func(t *testing.T) {
		h := newHarness(t)
		h.pub.confirm = func(*mods.Descriptor) bool { return false }
		d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
		d.ModID = 42
		d.IsUploaded = true
		require.ErrorIs(t, h.pub.Publish(context.Background(), d), ErrDeclined)
		require.Empty(t, h.registry.calls)
		require.False(t, d.IsPublic)
	})
	t.Run("registry failure", func(t *testing.T) {
		h := newHarness(t)
		h.registry.failEdit = &mods.RegistryError{Op: "edit profile", Message: "nope"}
		d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")
		d.ModID = 42
		d.IsUploaded = true
		require.Error(t, h.pub.Publish(context.Background(), d))
		require.False(t, d.IsPublic)
	})
}

func TestPageURL(t *testing.T) {
	h := newHarness(t)
	h.registry.profile = registry.Profile{ID: 42, NameID: "crate"}
	d := mods.New("Crate", mods.ModTypeSpawnable, "Assets/crate.prefab")

	_, err := h.pub.PageURL(context.Background(), d)
	require.Error(t, err)

	d.ModID = 42
	url, err := h.pub.PageURL(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, "https://mods.example.com/m/crate", url)
}

type fakePacker struct{ err error }

func (p fakePacker) PackMod(context.Context, *mods.Descriptor, bool) error { return p.err }

func TestReleaseClearsFingerprintOnPackFailure(t *testing.T) {
	h := newHarness(t)
	d := h.uploadable(t)
	d.LastFingerprint = mods.Fingerprint{{Path: "Assets/crate.prefab", Hash: "abc"}}

	err := h.pub.Release(context.Background(), fakePacker{err: &mods.BuildError{Platform: mods.PlatformAndroid, Output: "compile"}}, d)
	var buildErr *mods.BuildError
	require.True(t, errors.As(err, &buildErr))
	require.Empty(t, d.LastFingerprint)
	require.Empty(t, h.registry.calls)

	require.NoError(t, h.pub.Release(context.Background(), fakePacker{}, d))
	require.True(t, d.IsUploaded)
}
