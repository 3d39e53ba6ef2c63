package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mediafetch/backend/internal/auth"
	"github.com/mediafetch/backend/internal/db"
	"github.com/mediafetch/backend/internal/jobs"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/methodhealth"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/resolver"
	"github.com/mediafetch/backend/internal/storage"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]*db.APIKey
}

func (m *memoryKeys) Create(_ context.Context, key *db.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.Prefix] = key
	return nil
}

func (m *memoryKeys) GetByPrefix(_ context.Context, prefix string) (*db.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[prefix]; ok {
		return k, nil
	}
	return nil, db.ErrAPIKeyNotFound
}

func (m *memoryKeys) List(context.Context) ([]*db.APIKey, error)  { return nil, nil }
func (m *memoryKeys) TouchLastUsed(context.Context, uuid.UUID) error { return nil }
func (m *memoryKeys) Revoke(context.Context, uuid.UUID) error        { return nil }

type fakeResolver struct {
	result media.Result
	last   resolver.Request
}

func (f *fakeResolver) Resolve(_ context.Context, req resolver.Request) resolver.Resolution {
	f.last = req
	det := provider.DefaultDetector().Detect(req.URL)
	return resolver.Resolution{Detection: det, Result: f.result}
}

func (f *fakeResolver) Providers() []resolver.ProviderMethods {
	return []resolver.ProviderMethods{
		{Provider: media.ProviderTikTok, Label: "TikTok", Methods: []string{"tiktok-ytdlp", "tiktok-api"}},
	}
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job
}

func (f *fakeJobs) Submit(_ context.Context, apiKeyID, url string, skipCache bool) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &jobs.Job{ID: uuid.New().String(), APIKeyID: apiKeyID, URL: url, SkipCache: skipCache, Status: jobs.StatusQueued}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, jobs.ErrJobNotFound
}

func (f *fakeJobs) ListJobs(_ context.Context, apiKeyID string, _ int) ([]*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*jobs.Job
	for _, j := range f.jobs {
		if j.APIKeyID == apiKeyID {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeSnapshots struct{ objects map[string]string }

func (f *fakeSnapshots) GetObject(_ context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), &storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (f *fakeSnapshots) List(_ context.Context, prefix string, _ int) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k})
		}
	}
	return out, nil
}

type fakeCookies struct{ set map[media.ProviderID]string }

func (f *fakeCookies) Set(_ context.Context, p media.ProviderID, c string) error {
	f.set[p] = c
	return nil
}

func (f *fakeCookies) Configured(context.Context) map[media.ProviderID]bool {
	out := map[media.ProviderID]bool{}
	for _, p := range media.AllProviders() {
		out[p] = f.set[p] != ""
	}
	return out
}

type testEnv struct {
	router   *Router
	resolver *fakeResolver
	health   *methodhealth.Checker
	cookies  *fakeCookies
	apiKey   string
	admin    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	authSvc := auth.NewService(&memoryKeys{keys: map[string]*db.APIKey{}}, "test-secret")
	raw, _, err := authSvc.CreateKey(context.Background(), "tests")
	if err != nil {
		t.Fatal(err)
	}
	adminToken, err := authSvc.IssueAdminToken("ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		resolver: &fakeResolver{},
		health:   methodhealth.NewChecker(&methodhealth.Config{FailureThreshold: 1}),
		cookies:  &fakeCookies{set: map[media.ProviderID]string{}},
		apiKey:   raw,
		admin:    adminToken,
	}
	env.router = NewRouter(&Config{
		Resolver:     env.resolver,
		Detector:     provider.DefaultDetector(),
		MethodHealth: env.health,
		Auth:         authSvc,
		Jobs:         &fakeJobs{jobs: map[string]*jobs.Job{}},
		Cookies:      env.cookies,
		Snapshots: &fakeSnapshots{objects: map[string]string{
			"snapshots/tiktok-api/2026-10-15/a.html": "<html>challenge</html>",
		}},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
}

func videoResult() media.Result {
	return media.Result{Success: true, Method: "tiktok-api", Info: &media.MediaInfo{
		Title:   "dance",
		Formats: []media.Format{{FormatID: "play", VideoCodec: "h264", AudioCodec: "aac", URL: "https://cdn/x.mp4"}},
	}}
}

func TestResolve_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/resolve", ResolveRequest{URL: "https://www.tiktok.com/@a/video/7301234567890123456"}, "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestResolve_Success(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.result = videoResult()

	w := env.do(t, http.MethodPost, "/api/v1/resolve", ResolveRequest{URL: "https://www.tiktok.com/@a/video/7301234567890123456", SkipCache: true}, env.apiKey)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Provider string `json:"provider"`
		Source   string `json:"source"`
		Title    string `json:"title"`
	}
	decode(t, w, &resp)
	if resp.Provider != "tiktok" || resp.Source != "api" || resp.Title != "dance" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !env.resolver.last.SkipCache || env.resolver.last.APIKeyID == "" {
		t.Errorf("request not forwarded correctly: %+v", env.resolver.last)
	}
}

func TestResolve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		result media.Result
		want   int
		code   string
	}{
		{"not found", media.Result{Err: media.NewError(media.CodeNotFound, "gone")}, http.StatusNotFound, "NOT_FOUND"},
		{"aggregate uses cause", media.Result{Err: &media.ExtractError{
			Code:     media.CodeAllMethodsFailed,
			Attempts: []media.Attempt{{Method: "tiktok-api", Code: media.CodeNetworkError}, {Method: "tiktok-ytdlp", Code: media.CodePrivateContent}},
		}}, http.StatusForbidden, "ALL_METHODS_FAILED"},
		{"metadata only", media.Result{Err: media.NewError(media.CodeMetadataOnly, "")}, http.StatusUnprocessableEntity, "METADATA_ONLY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.resolver.result = tt.result

			w := env.do(t, http.MethodGet, "/api/v1/resolve?url=https://www.tiktok.com/@a/video/7301234567890123456", nil, env.apiKey)

			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.code) {
				t.Errorf("expected %s in %s", tt.code, w.Body.String())
			}
		})
	}
}

func TestResolve_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/resolve", nil, env.apiKey)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing url: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader("{"))
	req.Header.Set("X-API-Key", env.apiKey)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: expected 400, got %d", rec.Code)
	}
}

func TestProviders_ETag(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/providers", nil, env.apiKey)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == "" {
		t.Fatalf("expected 200 with ETag, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tiktok-api") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestJobs_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", ResolveRequest{URL: "https://x.com/jack/status/20"}, env.apiKey)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var created CreateJobResponse
	decode(t, w, &created)
	if created.Status != jobs.StatusQueued || w.Header().Get("Location") != "/api/v1/jobs/"+created.JobID {
		t.Errorf("unexpected create response %+v", created)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, nil, env.apiKey); w.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/jobs/missing", nil, env.apiKey); w.Code != http.StatusNotFound {
		t.Errorf("missing job: expected 404, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/jobs?limit=5", nil, env.apiKey)
	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	decode(t, w, &list)
	if len(list.Jobs) != 1 {
		t.Errorf("expected one job, got %d", len(list.Jobs))
	}

	if w := env.do(t, http.MethodGet, "/api/v1/jobs?limit=0", nil, env.apiKey); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestAdmin_RequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/admin/methods", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/admin/methods", nil, "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}
}

func TestAdmin_MethodsAndReset(t *testing.T) {
	env := newTestEnv(t)
	env.health.RecordAttempt("tiktok-api", false)

	w := env.do(t, http.MethodGet, "/api/v1/admin/methods", nil, env.admin)
	var list struct {
		Methods []MethodStatus `json:"methods"`
	}
	decode(t, w, &list)
	if len(list.Methods) != 2 || list.Methods[1].Method != "tiktok-api" || list.Methods[1].State != methodhealth.StateDisabled || list.Methods[1].Priority != 2 {
		t.Fatalf("unexpected methods %+v", list.Methods)
	}

	w = env.do(t, http.MethodPost, "/api/v1/admin/methods/tiktok-api/reset", nil, env.admin)
	if w.Code != http.StatusOK || !env.health.IsMethodAvailable("tiktok-api") {
		t.Errorf("reset failed: %d", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/admin/methods/nope/reset", nil, env.admin); w.Code != http.StatusNotFound {
		t.Errorf("unknown method: expected 404, got %d", w.Code)
	}
}

func TestAdmin_Cookies(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/admin/cookies/instagram", SetCookiesRequest{Cookies: " sessionid=1 "}, env.admin)
	if w.Code != http.StatusNoContent || env.cookies.set[media.ProviderInstagram] != "sessionid=1" {
		t.Errorf("set cookies: %d %q", w.Code, env.cookies.set[media.ProviderInstagram])
	}

	if w := env.do(t, http.MethodPut, "/api/v1/admin/cookies/myspace", SetCookiesRequest{Cookies: "x"}, env.admin); w.Code != http.StatusBadRequest {
		t.Errorf("unknown provider: expected 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/admin/cookies", nil, env.admin)
	if !strings.Contains(w.Body.String(), `"instagram":true`) || strings.Contains(w.Body.String(), "sessionid") {
		t.Errorf("unexpected cookie listing %s", w.Body.String())
	}
}

func TestAdmin_Snapshots(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/admin/snapshots?method=tiktok-api", nil, env.admin)
	if !strings.Contains(w.Body.String(), "snapshots/tiktok-api/2026-10-15/a.html") {
		t.Errorf("unexpected listing %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/admin/snapshots/snapshots/tiktok-api/2026-10-15/a.html", nil, env.admin)
	if w.Code != http.StatusOK || w.Body.String() != "<html>challenge</html>" {
		t.Fatalf("get snapshot: %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("snapshots must not render as HTML, got %s", ct)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/admin/snapshots/tiktok-api/2026-10-15/missing.html", nil, env.admin); w.Code != http.StatusNotFound {
		t.Errorf("missing snapshot: expected 404, got %d", w.Code)
	}
}

func TestJobsDisabled(t *testing.T) {
	authSvc := auth.NewService(&memoryKeys{keys: map[string]*db.APIKey{}}, "test-secret")
	raw, _, err := authSvc.CreateKey(context.Background(), "tests")
	if err != nil {
		t.Fatal(err)
	}
	router := NewRouter(&Config{
		Resolver:     &fakeResolver{},
		Detector:     provider.DefaultDetector(),
		MethodHealth: methodhealth.NewChecker(nil),
		Auth:         authSvc,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"url":"https://x.com/a/status/1"}`))
	req.Header.Set("X-API-Key", raw)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
