package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/config"
	"github.com/hyperjump/dermamatch/internal/corpus"
	"github.com/hyperjump/dermamatch/internal/embedding"
	"github.com/hyperjump/dermamatch/internal/ingest"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/search"
	"github.com/hyperjump/dermamatch/internal/storage"
	"github.com/hyperjump/dermamatch/internal/vector"
)

type fixture struct {
	srv    *Server
	engine *search.Engine
	store  *storage.SQLiteStorage
}

// newFixture wires a 2-dimensional sqlite-backed server holding three cases.
func newFixture(t *testing.T, rebuild bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedding.Dimensions = 2
	cfg.Storage.DatabasePath = filepath.Join(dir, "cases.db")
	cfg.Storage.IndexPath = ""

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.BatchUpsertCases(ctx, []*models.ReferenceCase{
		{CaseID: "c1", ConditionLabel: "acne", Demographics: models.Demographics{SkinType: "IV"}, Embedding: []float32{1, 0}},
		{CaseID: "c2", ConditionLabel: "rosacea", Embedding: []float32{0.8, 0.6}},
		{CaseID: "c3", ConditionLabel: "acne", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatal(err)
	}

	layout, err := embedding.NewLayout([]embedding.Group{{Name: "facial_geometry", Kind: embedding.KindFacialGeometry, Size: 2}})
	if err != nil {
		t.Fatal(err)
	}
	fuser, err := embedding.NewFuser(layout, 2)
	if err != nil {
		t.Fatal(err)
	}
	weights, err := ranking.NewWeightStore(ranking.DefaultWeightConfig())
	if err != nil {
		t.Fatal(err)
	}
	builder, err := vector.Builder(vector.IndexTypeMemory, 2)
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(fuser, corpus.NewAdapter(corpus.NewSQLiteSource(store), 2), weights, builder, cfg.Search)
	if rebuild {
		if _, err := engine.Rebuild(ctx); err != nil {
			t.Fatal(err)
		}
	}
	importer := ingest.NewImporter(store, 2, nil)
	return &fixture{
		srv:    NewServer(engine, importer, store, cfg, nil, zap.NewNop()),
		engine: engine,
		store:  store,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, http.NoBody)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleSearch(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(t, http.MethodPost, "/api/v1/search",
		`{"raw_features": {"facial_geometry": [1, 0]}, "demographics": {"skin_type": "iv"}, "k": 2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("response should carry a request ID")
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.Results[0].CaseID != "c1" || resp.Results[1].CaseID != "c2" {
		t.Errorf("results: %+v", resp.Results)
	}
}

func TestHandleSearch_DefaultKAndFilter(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(t, http.MethodPost, "/api/v1/search",
		`{"raw_features": {"facial_geometry": [1, 0]}, "filters": {"condition_label": "acne"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || !resp.PartialResults {
		t.Errorf("expected 2 acne results flagged partial, got %+v", resp)
	}
	for _, r := range resp.Results {
		if r.ConditionLabel != "acne" {
			t.Errorf("filter leaked %s", r.ConditionLabel)
		}
	}
}

func TestHandleSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rebuild bool
		body    string
		want    int
	}{
		{"bad json", true, `{`, http.StatusBadRequest},
		{"negative k", true, `{"k": -1}`, http.StatusBadRequest},
		{"k over max", true, `{"k": 1000}`, http.StatusBadRequest},
		{"not built", false, `{"k": 1}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.rebuild)
			w := f.do(t, http.MethodPost, "/api/v1/search", tt.body)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHandleGetCase(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(t, http.MethodGet, "/api/v1/cases/c2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var c models.ReferenceCase
	if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
		t.Fatal(err)
	}
	if c.ConditionLabel != "rosacea" {
		t.Errorf("got %+v", c)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/cases/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing case: got %d, want 404", w.Code)
	}
}

func TestHandleGetCase_FallsBackToStoreBeforeRebuild(t *testing.T) {
	f := newFixture(t, false)
	if w := f.do(t, http.MethodGet, "/api/v1/cases/c1", ""); w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
}

func TestHandleRebuildAndImport(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodPost, "/api/v1/admin/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status: got %d", w.Code)
	}
	var report models.RebuildReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.TotalRecords != 3 || report.IndexedRecords != 3 || report.SkippedRecords != 0 {
		t.Errorf("report: %+v", report)
	}

	w = f.do(t, http.MethodPost, "/api/v1/cases",
		`{"cases": [{"case_id": "c4", "condition_label": "acne", "embedding": [0.6, 0.8]}, {"condition_label": "x", "embedding": [1]}], "rebuild": true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("import status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Import  ingest.Report        `json:"import"`
		Rebuild models.RebuildReport `json:"rebuild"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Import.Imported != 1 || resp.Import.Rejected != 1 {
		t.Errorf("import: %+v", resp.Import)
	}
	if resp.Rebuild.IndexedRecords != 4 {
		t.Errorf("rebuild after import: %+v", resp.Rebuild)
	}
	if f.engine.Status().IndexSize != 4 {
		t.Errorf("index size = %d", f.engine.Status().IndexSize)
	}
}

func TestHandleListCases(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/api/v1/cases?offset=1&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var page listCasesResponse
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || page.Offset != 1 || page.Limit != 1 || len(page.Cases) != 1 || page.Cases[0].CaseID != "c2" {
		t.Errorf("page: %+v", page)
	}

	w = f.do(t, http.MethodGet, "/api/v1/cases?limit=100000", "")
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.Limit != maxListLimit || len(page.Cases) != 3 {
		t.Errorf("capped page: limit %d, %d cases", page.Limit, len(page.Cases))
	}

	for _, q := range []string{"offset=-1", "limit=0", "limit=ten"} {
		if w := f.do(t, http.MethodGet, "/api/v1/cases?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, w.Code)
		}
	}
}

func TestHandleDeleteCase(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodDelete, "/api/v1/cases/c2?rebuild=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Deleted string               `json:"deleted"`
		Rebuild models.RebuildReport `json:"rebuild"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Deleted != "c2" || resp.Rebuild.IndexedRecords != 2 {
		t.Errorf("delete response: %+v", resp)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/cases/c2", ""); w.Code != http.StatusNotFound {
		t.Errorf("deleted case still served: %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/cases/c2", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", w.Code)
	}
}

func TestCaseStoreRoutes_FileCorpus(t *testing.T) {
	f := newFixture(t, true)
	f.srv = NewServer(f.engine, nil, f.store, f.srv.config, nil, zap.NewNop())

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/cases", ""},
		{http.MethodPost, "/api/v1/cases", `{"cases": [{"case_id": "c9", "embedding": [1, 0]}]}`},
		{http.MethodDelete, "/api/v1/cases/c1", ""},
	} {
		if w := f.do(t, tc.method, tc.path, tc.body); w.Code != http.StatusNotImplemented {
			t.Errorf("%s %s: got %d, want 501", tc.method, tc.path, w.Code)
		}
	}
	if _, err := f.store.GetCase(context.Background(), "c1"); err != nil {
		t.Errorf("case store was modified: %v", err)
	}
}

func TestHandleWeights(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPut, "/api/v1/admin/weights/components", `{"ethnicity": 2, "skin_type": 1, "age_group": 1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var cfg ranking.WeightConfig
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.EthnicityWeight != 0.5 || cfg.SkinTypeWeight != 0.25 {
		t.Errorf("weights: %+v", cfg)
	}

	if w := f.do(t, http.MethodPut, "/api/v1/admin/weights/demographic", `{"demographic_weight": 1.5}`); w.Code != http.StatusBadRequest {
		t.Errorf("out of range weight: got %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/api/v1/admin/weights/demographic", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing weight: got %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/api/v1/admin/weights/demographic", `{"demographic_weight": 0.7}`); w.Code != http.StatusOK {
		t.Errorf("valid weight: got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/v1/admin/weights", "")
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.DemographicWeight != 0.7 || cfg.EthnicityWeight != 0.5 {
		t.Errorf("current weights: %+v", cfg)
	}
}

type stubWatcher struct{ reloads int }

func (stubWatcher) Path() string { return "cases.jsonl" }

func (w stubWatcher) Reloads() int { return w.reloads }

func TestHandleStatusHealthMetrics(t *testing.T) {
	f := newFixture(t, true)
	f.srv = NewServer(f.engine, nil, f.store, f.srv.config, stubWatcher{reloads: 4}, zap.NewNop())
	if w := f.do(t, http.MethodPost, "/api/v1/search", `{"raw_features": {"facial_geometry": [1, 0]}}`); w.Code != http.StatusOK {
		t.Fatalf("search: got %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Engine      search.Status          `json:"engine"`
		StoredCases int64                  `json:"stored_cases"`
		Config      map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Engine.Ready || out.Engine.IndexSize != 3 || out.StoredCases != 3 {
		t.Errorf("status: %+v", out)
	}
	if out.Engine.CachedFusions != 1 {
		t.Errorf("cached fusions = %d, want 1", out.Engine.CachedFusions)
	}
	if out.Config["watching"] != "cases.jsonl" || out.Config["watch_reloads"] != float64(4) {
		t.Errorf("watcher config = %v", out.Config)
	}
	if out.Engine.CorpusSource != corpus.SourceSQLite {
		t.Errorf("corpus source = %q", out.Engine.CorpusSource)
	}
	want := []search.FeatureGroup{{Name: "facial_geometry", Kind: "facial_geometry", Size: 2}}
	if len(out.Engine.FeatureGroups) != 1 || out.Engine.FeatureGroups[0] != want[0] {
		t.Errorf("feature groups = %+v", out.Engine.FeatureGroups)
	}

	if w := f.do(t, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "dermamatch_http_requests_total") {
		t.Errorf("metrics: got %d", w.Code)
	}
}
