package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"modkit/pkg/bus"
	"modkit/pkg/s3"
	"modkit/services/registry"
)

// memObjects serves presigned URLs from the test server itself.
type memObjects struct {
	mu      sync.Mutex
	base    string
	objects map[string][]byte
}

func (m *memObjects) PresignPut(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return m.base + "/objects/" + bucket + "/" + key, nil
}

func (m *memObjects) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return m.base + "/objects/" + bucket + "/" + key, nil
}

func (m *memObjects) Stat(_ context.Context, bucket, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return 0, s3.ErrNotFound
	}
	return int64(len(data)), nil
}

func (m *memObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memObjects) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/objects/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.objects[key] = data
		m.mu.Unlock()
	case http.MethodGet:
		m.mu.Lock()
		data, ok := m.objects[key]
		m.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}
}

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subj string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subj)
	return nil
}

type testServer struct {
	url     string
	store   *MemoryStore
	objects *memObjects
	bus     *recordingBus
	metrics *Metrics
}

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := NewMemoryStore()
	_, _, err := Bootstrap(context.Background(), store, "alice", aliceToken)
	require.NoError(t, err)
	_, _, err = Bootstrap(context.Background(), store, "bob", bobToken)
	require.NoError(t, err)

	objects := &memObjects{objects: map[string][]byte{}}
	events := &recordingBus{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	api, err := New(Deps{Store: store, Objects: objects, Bus: events, Metrics: metrics, Logger: zerolog.Nop()},
		Config{Bucket: "mods"})
	require.NoError(t, err)
	routes, err := api.Routes(reg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/objects/", objects)
	mux.Handle("/", routes)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	objects.base = srv.URL
	api.config.PublicBaseURL = srv.URL

	return &testServer{url: srv.URL, store: store, objects: objects, bus: events, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) client(t *testing.T, token string) *registry.Client {
	t.Helper()
	c, err := registry.NewClient(registry.ClientConfig{
		BaseURL:    s.url,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		TempDir:    t.TempDir(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 512, 288))))
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var errResp registry.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	require.Equal(t, registry.CodeUnauthorized, errResp.Code)

	resp, _ = s.do(t, http.MethodGet, "/v1/me", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/v1/me", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me registry.User
	require.NoError(t, json.Unmarshal(body, &me))
	require.Equal(t, "alice", me.Username)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	first, created, err := Bootstrap(context.Background(), store, "alice", "t1")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := Bootstrap(context.Background(), store, "alice", "t1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	_, _, err = Bootstrap(context.Background(), store, "alice", "t2")
	require.Error(t, err)
}

func TestModLifecycleThroughClient(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice := s.client(t, aliceToken)

	logo := filepath.Join(t.TempDir(), "logo.png")
	writePNG(t, logo)
	profile, err := alice.CreateProfile(ctx, registry.ProfileDetails{
		Name:    "Wooden Crate",
		Summary: "A crate",
		Tags:    []string{"Spawnable", "Props", "props"},
		Logo:    logo,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "wooden-crate", profile.NameID)
	require.Equal(t, []string{"Spawnable", "Props"}, profile.Tags)
	require.False(t, profile.Visible)
	require.NotEmpty(t, profile.LogoURL)
	require.Equal(t, "alice", profile.SubmittedBy.Username)

	// A second mod with the same name gets a distinct name id.
	other, err := alice.CreateProfile(ctx, registry.ProfileDetails{Name: "Wooden Crate"}, nil)
	require.NoError(t, err)
	require.Equal(t, "wooden-crate-2", other.NameID)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(`{}`), 0o644))
	modfile, err := alice.UploadModfile(ctx, registry.ModfileDetails{
		ModID:     profile.ID,
		Directory: dir,
		Version:   "1.0.0",
		Platform:  "windows",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, registry.ModfileReady, modfile.Status)
	require.Equal(t, 1.0, testutil.ToFloat64(s.metrics.uploads.WithLabelValues("windows")))

	visible := true
	published, err := alice.EditProfile(ctx, profile.ID, registry.ProfileDetails{Visible: &visible}, nil)
	require.NoError(t, err)
	require.True(t, published.Visible)
	require.Equal(t, "Wooden Crate", published.Name)
	require.Equal(t, []string{bus.SubjectModfileNew, bus.SubjectPublished}, s.bus.subjects)

	fetched, err := alice.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.Modfile)
	require.Equal(t, modfile.ID, fetched.Modfile.ID)

	var archive bytes.Buffer
	require.NoError(t, alice.Download(ctx, modfile.ID, &archive))
	require.Equal(t, modfile.Size, int64(archive.Len()))

	logoPath := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, alice.DownloadLogo(ctx, fetched, logoPath))
	info, err := os.Stat(logoPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	require.Contains(t, s.store.AuditLog(), fmt.Sprintf("alice modfile.complete %s", modfile.ID))
}

func TestOwnership(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/v1/mods", aliceToken, registry.ProfileDetails{Name: "Crate"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var profile registry.Profile
	require.NoError(t, json.Unmarshal(body, &profile))
	path := fmt.Sprintf("/v1/mods/%d", profile.ID)

	// Hidden mods do not exist for other users.
	resp, _ = s.do(t, http.MethodGet, path, bobToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPatch, path, bobToken, registry.ProfileDetails{Name: "Mine"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	visible := true
	resp, _ = s.do(t, http.MethodPatch, path, aliceToken, registry.ProfileDetails{Visible: &visible})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, path, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &profile))
	require.Equal(t, int64(1), profile.SubmittedBy.ID)

	resp, body = s.do(t, http.MethodPatch, path, bobToken, registry.ProfileDetails{Name: "Mine"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var errResp registry.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	require.Equal(t, registry.CodeForbidden, errResp.Code)

	resp, _ = s.do(t, http.MethodPost, path+"/modfiles", bobToken, registry.RegisterModfileRequest{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRegisterModfileValidation(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/v1/mods", aliceToken, registry.ProfileDetails{Name: "Crate"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var profile registry.Profile
	require.NoError(t, json.Unmarshal(body, &profile))
	path := fmt.Sprintf("/v1/mods/%d/modfiles", profile.ID)
	sum := strings.Repeat("a", 64)

	tests := []struct {
		name string
		req  registry.RegisterModfileRequest
	}{
		{"unknown platform", registry.RegisterModfileRequest{Version: "1", Platform: "ps5", Size: 1, SHA256: sum}},
		{"missing version", registry.RegisterModfileRequest{Platform: "android", Size: 1, SHA256: sum}},
		{"zero size", registry.RegisterModfileRequest{Version: "1", Platform: "android", SHA256: sum}},
		{"bad digest", registry.RegisterModfileRequest{Version: "1", Platform: "android", Size: 1, SHA256: "xyz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := s.do(t, http.MethodPost, path, aliceToken, tt.req)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCompleteModfileChecksUpload(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/v1/mods", aliceToken, registry.ProfileDetails{Name: "Crate"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var profile registry.Profile
	require.NoError(t, json.Unmarshal(body, &profile))

	resp, body = s.do(t, http.MethodPost, fmt.Sprintf("/v1/mods/%d/modfiles", profile.ID), aliceToken,
		registry.RegisterModfileRequest{Version: "1", Platform: "android", Size: 4, SHA256: strings.Repeat("b", 64)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registered registry.RegisterModfileResponse
	require.NoError(t, json.Unmarshal(body, &registered))
	require.Equal(t, registry.ModfilePending, registered.Modfile.Status)
	complete := fmt.Sprintf("/v1/mods/%d/modfiles/%s/complete", profile.ID, registered.Modfile.ID)

	resp, _ = s.do(t, http.MethodPost, complete, aliceToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, registered.UploadURL, strings.NewReader("toolong"))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	resp, _ = s.do(t, http.MethodPost, complete, aliceToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Pending modfiles cannot be downloaded.
	resp, _ = s.do(t, http.MethodGet, "/v1/modfiles/"+registered.Modfile.ID+"/download", aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `modkit_registry_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestLogoRejectsNonImages(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/v1/mods", aliceToken, registry.ProfileDetails{Name: "Crate"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var profile registry.Profile
	require.NoError(t, json.Unmarshal(body, &profile))

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/v1/mods/%d/logo", s.url, profile.ID), strings.NewReader("plain text"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, putResp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, fmt.Sprintf("/v1/mods/%d/logo", profile.ID), "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Wooden Crate":     "wooden-crate",
		"  Crate: Deluxe!": "crate-deluxe",
		"Ünïcode":          "n-code",
		"!!!":              "mod",
	}
	for in, want := range tests {
		require.Equal(t, want, slugify(in), in)
	}
}
