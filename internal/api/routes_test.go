package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-crop/internal/catalog"
	"github.com/heimdex/heimdex-crop/internal/crop"
	"github.com/heimdex/heimdex-crop/internal/ffmpeg"
)

const testToken = "test-token-0123456789"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, svc *fakeService, repo *fakeRepo) ServerConfig {
	t.Helper()
	session, err := crop.NewSession(crop.SessionConfig{AspectRatios: []float64{1.0, 16.0 / 9.0}})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return ServerConfig{
		Version:        "test",
		CatalogService: svc,
		Repository:     repo,
		Session:        session,
		Logger:         discardLogger(),
		StartTime:      time.Now().Add(-10 * time.Second),
	}
}

// do sends an authenticated request through the full router.
func do(t *testing.T, cfg ServerConfig, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (%q)", err, rr.Body.String())
	}
	return body
}

func TestHealth_NoAuth(t *testing.T) {
	cfg := testConfig(t, newFakeService(), newFakeRepo())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if up, _ := body["uptime_s"].(float64); up < 10 {
		t.Errorf("uptime_s = %v, want >= 10", body["uptime_s"])
	}
}

func TestStatus_RequiresAuth(t *testing.T) {
	cfg := testConfig(t, newFakeService(), newFakeRepo())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestStatus_NilDoctor(t *testing.T) {
	svc := newFakeService()
	svc.sources["s1"] = &catalog.Source{ID: "s1", Path: "/photos"}
	svc.addAsset(&catalog.Asset{ID: "a1", SourceID: "s1", Kind: catalog.KindImage})
	cfg := testConfig(t, svc, newFakeRepo())

	rr := do(t, cfg, http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	body := decodeJSONBody(t, rr)
	if _, ok := body["ffmpeg"]; ok {
		t.Error("ffmpeg should be omitted when doctor is nil")
	}
	if body["state"] != "idle" || body["sources_count"] != float64(1) || body["assets_count"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	picker, ok := body["picker"].(map[string]any)
	if !ok || picker["aspect_ratio"] != float64(1) {
		t.Errorf("picker = %v", body["picker"])
	}
}

func TestStatus_WithDoctor(t *testing.T) {
	cfg := testConfig(t, newFakeService(), newFakeRepo())
	cfg.Doctor = ffmpeg.NewCachedDoctor(&fakeRenderer{caps: &ffmpeg.Capabilities{
		FFmpeg:        true,
		FFmpegVersion: "6.1",
		ProbedAt:      time.Now(),
	}}, nil)

	ff := statusFFmpeg(t, cfg)
	if ff["available"] != false || ff["last_probe_at"] != nil {
		t.Errorf("ffmpeg before any check = %v, status must not run one", ff)
	}

	if _, err := cfg.Doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	ff = statusFFmpeg(t, cfg)
	if ff["available"] != true || ff["version"] != "6.1" {
		t.Errorf("ffmpeg = %v", ff)
	}
	if _, ok := ff["last_probe_at"]; !ok {
		t.Error("last_probe_at missing")
	}
}

func TestStatus_ReportsDoctorFailure(t *testing.T) {
	cfg := testConfig(t, newFakeService(), newFakeRepo())
	cfg.Doctor = ffmpeg.NewCachedDoctor(&fakeRenderer{caps: &ffmpeg.Capabilities{FFmpeg: true}}, nil)
	cfg.Doctor.Refresh(context.Background())
	cfg.Doctor.Invalidate(errors.New("ffmpeg vanished"))

	ff := statusFFmpeg(t, cfg)
	if ff["available"] != false || ff["last_error"] != "ffmpeg vanished" {
		t.Errorf("ffmpeg = %v", ff)
	}
}

func statusFFmpeg(t *testing.T, cfg ServerConfig) map[string]any {
	t.Helper()
	body := decodeJSONBody(t, do(t, cfg, http.MethodGet, "/status", ""))
	ff, ok := body["ffmpeg"].(map[string]any)
	if !ok {
		t.Fatal("ffmpeg missing from response")
	}
	return ff
}

func TestStatus_States(t *testing.T) {
	tests := []struct {
		name string
		jobs []*catalog.Job
		want string
	}{
		{"idle", nil, "idle"},
		{"exporting", []*catalog.Job{{ID: "j1", Type: catalog.JobTypeExport, Status: catalog.JobStatusRunning}}, "exporting"},
		{"scanning", []*catalog.Job{{ID: "j1", Type: catalog.JobTypeScan, Status: catalog.JobStatusRunning}}, "scanning"},
		{"error", []*catalog.Job{{ID: "j1", Type: catalog.JobTypeExport, Status: catalog.JobStatusFailed, Error: "boom"}}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			for _, j := range tt.jobs {
				repo.jobs[j.ID] = j
				repo.order = append(repo.order, j.ID)
			}
			body := decodeJSONBody(t, do(t, testConfig(t, newFakeService(), repo), http.MethodGet, "/status", ""))
			if body["state"] != tt.want {
				t.Errorf("state = %v, want %s", body["state"], tt.want)
			}
		})
	}
}

func TestSources_AddListDelete(t *testing.T) {
	svc := newFakeService()
	cfg := testConfig(t, svc, newFakeRepo())

	rr := do(t, cfg, http.MethodPost, "/sources/folders", `{"path":"/photos"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", rr.Code, rr.Body.String())
	}
	id, _ := decodeJSONBody(t, rr)["source_id"].(string)

	var list SourcesResponse
	json.Unmarshal(do(t, cfg, http.MethodGet, "/sources", "").Body.Bytes(), &list)
	if len(list.Sources) != 1 || list.Sources[0].ID != id {
		t.Fatalf("sources = %+v", list.Sources)
	}

	if rr := do(t, cfg, http.MethodDelete, "/sources/"+id, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if len(svc.sources) != 0 {
		t.Errorf("source not removed")
	}
}

func TestSources_AddRequiresPath(t *testing.T) {
	cfg := testConfig(t, newFakeService(), newFakeRepo())
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"empty path", `{"path":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, cfg, http.MethodPost, "/sources/folders", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if decodeJSONBody(t, rr)["code"] != "BAD_REQUEST" {
				t.Errorf("code = %v", decodeJSONBody(t, rr)["code"])
			}
		})
	}
}

func TestListAssets(t *testing.T) {
	svc := newFakeService()
	svc.addAsset(&catalog.Asset{ID: "a1", SourceID: "s1", Filename: "a.jpg", Kind: catalog.KindImage, Width: 40, Height: 30})
	svc.addAsset(&catalog.Asset{ID: "v1", SourceID: "s1", Filename: "v.mp4", Kind: catalog.KindVideo})
	svc.addAsset(&catalog.Asset{ID: "b1", SourceID: "s2", Filename: "b.jpg", Kind: catalog.KindImage})
	cfg := testConfig(t, svc, newFakeRepo())

	var resp AssetsResponse
	rr := do(t, cfg, http.MethodGet, "/sources/s1/assets", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(resp.Assets))
	}
	if resp.Assets[0].Kind != "image" || resp.Assets[0].Width != 40 {
		t.Errorf("asset[0] = %+v", resp.Assets[0])
	}
}

func TestScan(t *testing.T) {
	svc := newFakeService()
	cfg := testConfig(t, svc, newFakeRepo())

	if rr := do(t, cfg, http.MethodPost, "/scan", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("scan without sources status = %d, want 400", rr.Code)
	}
	if rr := do(t, cfg, http.MethodPost, "/scan", `{"source_id":"nope"}`); rr.Code != http.StatusNotFound {
		t.Errorf("scan of unknown source status = %d, want 404", rr.Code)
	}

	svc.sources["s1"] = &catalog.Source{ID: "s1"}
	rr := do(t, cfg, http.MethodPost, "/scan", `{}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("scan status = %d", rr.Code)
	}
	if decodeJSONBody(t, rr)["job_id"] == "" {
		t.Error("job_id missing")
	}
}

func TestJobs(t *testing.T) {
	repo := newFakeRepo()
	repo.jobs["j1"] = &catalog.Job{ID: "j1", Type: catalog.JobTypeExport, Status: catalog.JobStatusCompleted, Progress: 100, ItemCount: 3}
	repo.order = []string{"j1"}
	cfg := testConfig(t, newFakeService(), repo)

	var list JobsResponse
	json.Unmarshal(do(t, cfg, http.MethodGet, "/jobs", "").Body.Bytes(), &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ItemCount != 3 {
		t.Fatalf("jobs = %+v", list.Jobs)
	}

	if rr := do(t, cfg, http.MethodGet, "/jobs/j1", ""); rr.Code != http.StatusOK {
		t.Errorf("get job status = %d", rr.Code)
	}
	if rr := do(t, cfg, http.MethodGet, "/jobs/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("get missing job status = %d, want 404", rr.Code)
	}
}

type fakeService struct {
	sources map[string]*catalog.Source
	assets  map[string]*catalog.Asset
	order   []string
	repo    *fakeRepo
}

func newFakeService() *fakeService {
	return &fakeService{
		sources: make(map[string]*catalog.Source),
		assets:  make(map[string]*catalog.Asset),
	}
}

func (f *fakeService) addAsset(a *catalog.Asset) {
	f.assets[a.ID] = a
	f.order = append(f.order, a.ID)
}

func (f *fakeService) AddFolder(ctx context.Context, path, displayName string) (*catalog.Source, error) {
	s := &catalog.Source{ID: catalog.NewID(), Type: "folder", Path: path, DisplayName: displayName, Present: true}
	f.sources[s.ID] = s
	return s, nil
}

func (f *fakeService) RemoveSource(ctx context.Context, id string) error {
	delete(f.sources, id)
	return nil
}

func (f *fakeService) GetSources(ctx context.Context) ([]*catalog.Source, error) {
	out := make([]*catalog.Source, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeService) GetSource(ctx context.Context, id string) (*catalog.Source, error) {
	return f.sources[id], nil
}

func (f *fakeService) GetAssets(ctx context.Context, sourceID string) ([]*catalog.Asset, error) {
	var out []*catalog.Asset
	for _, id := range f.order {
		if a := f.assets[id]; a.SourceID == sourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeService) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	return f.assets[id], nil
}

func (f *fakeService) CountAssets(ctx context.Context) (int, error) {
	return len(f.assets), nil
}

func (f *fakeService) ResolveSelection(ctx context.Context, ids []string) ([]crop.AssetRef, error) {
	refs := make([]crop.AssetRef, 0, len(ids))
	for _, id := range ids {
		a, ok := f.assets[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrAssetNotFound, id)
		}
		refs = append(refs, a.Ref())
	}
	return refs, nil
}

func (f *fakeService) ScanSource(ctx context.Context, sourceID string) (*catalog.Job, error) {
	if _, ok := f.sources[sourceID]; !ok {
		return nil, catalog.ErrSourceNotFound
	}
	return &catalog.Job{ID: catalog.NewID(), Type: catalog.JobTypeScan, Status: catalog.JobStatusPending, SourceID: sourceID}, nil
}

func (f *fakeService) ExecuteScan(ctx context.Context, jobID, sourceID, path string) error {
	return nil
}

func (f *fakeService) StartJob(ctx context.Context, jobType, assetID string) (*catalog.Job, error) {
	job := &catalog.Job{ID: catalog.NewID(), Type: jobType, Status: catalog.JobStatusRunning, AssetID: assetID}
	if f.repo != nil {
		f.repo.CreateJob(ctx, job)
	}
	return job, nil
}

type fakeRepo struct {
	mu     sync.Mutex
	jobs   map[string]*catalog.Job
	order  []string
	config map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:   make(map[string]*catalog.Job),
		config: map[string]string{authTokenKey: testToken},
	}
}

func (f *fakeRepo) job(id string) catalog.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		return *j
	}
	return catalog.Job{}
}

func (f *fakeRepo) CreateSource(ctx context.Context, source *catalog.Source) error { return nil }

func (f *fakeRepo) GetSource(ctx context.Context, id string) (*catalog.Source, error) {
	return nil, nil
}

func (f *fakeRepo) GetSourceByPath(ctx context.Context, path string) (*catalog.Source, error) {
	return nil, nil
}

func (f *fakeRepo) ListSources(ctx context.Context) ([]*catalog.Source, error) {
	return []*catalog.Source{}, nil
}

func (f *fakeRepo) DeleteSource(ctx context.Context, id string) error { return nil }

func (f *fakeRepo) UpdateSourcePresent(ctx context.Context, id string, present bool) error {
	return nil
}

func (f *fakeRepo) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	return nil, nil
}

func (f *fakeRepo) ListAssets(ctx context.Context) ([]*catalog.Asset, error) {
	return []*catalog.Asset{}, nil
}

func (f *fakeRepo) GetAssetsBySource(ctx context.Context, sourceID string) ([]*catalog.Asset, error) {
	return []*catalog.Asset{}, nil
}

func (f *fakeRepo) DeleteAssetsBySource(ctx context.Context, sourceID string) error { return nil }

func (f *fakeRepo) UpsertAsset(ctx context.Context, asset *catalog.Asset) error { return nil }

func (f *fakeRepo) CountAssets(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeRepo) CreateJob(ctx context.Context, job *catalog.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := *job
	f.jobs[job.ID] = &j
	f.order = append(f.order, job.ID)
	return nil
}

func (f *fakeRepo) GetJob(ctx context.Context, id string) (*catalog.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepo) ListJobs(ctx context.Context, limit int) ([]*catalog.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*catalog.Job, 0, len(f.order))
	for _, id := range f.order {
		cp := *f.jobs[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) ListPendingJobs(ctx context.Context) ([]*catalog.Job, error) {
	return []*catalog.Job{}, nil
}

func (f *fakeRepo) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = status
		j.Error = errorMsg
	}
	return nil
}

func (f *fakeRepo) UpdateJobProgress(ctx context.Context, id string, progress, itemCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Progress = progress
		j.ItemCount = itemCount
	}
	return nil
}

func (f *fakeRepo) GetConfig(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config[key], nil
}

func (f *fakeRepo) SetConfig(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config[key] = value
	return nil
}

// fakeRenderer stands in for the ffmpeg subprocess runner.
type fakeRenderer struct {
	caps      *ffmpeg.Capabilities
	err       error
	lastChain string
}

func (f *fakeRenderer) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	return &ffmpeg.ProbeResult{}, nil
}

func (f *fakeRenderer) Render(ctx context.Context, in, out, chain string) (ffmpeg.RunResult, error) {
	f.lastChain = chain
	if f.err != nil {
		return ffmpeg.RunResult{ExitCode: 1}, f.err
	}
	return ffmpeg.RunResult{OutputPath: out}, nil
}

func (f *fakeRenderer) RunDoctor(ctx context.Context) (*ffmpeg.Capabilities, error) {
	if f.caps == nil {
		return &ffmpeg.Capabilities{ProbedAt: time.Now()}, nil
	}
	return f.caps, nil
}
