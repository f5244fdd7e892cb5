package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nidhogg/recall-engine/internal/consolidation"
	"github.com/nidhogg/recall-engine/internal/quality"
	"github.com/nidhogg/recall-engine/internal/recall"
	"github.com/nidhogg/recall-engine/internal/selector"
	"github.com/nidhogg/recall-engine/internal/store"
	"github.com/nidhogg/recall-engine/internal/temporal"
	"go.uber.org/zap"
)

// --- In-memory fakes (no Postgres/Neo4j/Redis/Qdrant) ---

type fakeLayer struct {
	name  string
	items []quality.ScoredItem
}

func (f *fakeLayer) Name() string { return f.name }

func (f *fakeLayer) Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error) {
	if k < len(f.items) {
		return f.items[:k], nil
	}
	return f.items, nil
}

type fakeQualityStore struct{}

func (fakeQualityStore) GetQuality(ctx context.Context, memoryID, layer string) (*quality.Record, error) {
	return nil, nil
}

type memLinkStore struct {
	links map[string]*temporal.Link
}

func newMemLinkStore() *memLinkStore {
	return &memLinkStore{links: map[string]*temporal.Link{}}
}

func (m *memLinkStore) UpsertLink(ctx context.Context, l *temporal.Link) error {
	m.links[l.FromID+"|"+l.ToID] = l
	return nil
}

func (m *memLinkStore) ForwardChain(ctx context.Context, eventID string, q temporal.ChainQuery) ([]*temporal.Link, error) {
	var out []*temporal.Link
	for _, l := range m.links {
		if l.FromID == eventID && (q.Type == "" || l.Type == q.Type) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLinkStore) BackwardChain(ctx context.Context, eventID string, q temporal.ChainQuery) ([]*temporal.Link, error) {
	var out []*temporal.Link
	for _, l := range m.links {
		if l.ToID == eventID && (q.Type == "" || l.Type == q.Type) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLinkStore) LinksByType(ctx context.Context, lt temporal.LinkType, minConfidence float64) ([]*temporal.Link, error) {
	var out []*temporal.Link
	for _, l := range m.links {
		if l.Type == lt && l.Confidence >= minConfidence {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLinkStore) Stats(ctx context.Context) (*temporal.Stats, error) {
	s := &temporal.Stats{ByType: map[temporal.LinkType]int{}}
	for _, l := range m.links {
		s.TotalLinks++
		s.ByType[l.Type]++
	}
	return s, nil
}

type memEventStore struct {
	events []*store.Event
	useful map[string]int
	failed bool
}

func newMemEventStore() *memEventStore {
	return &memEventStore{useful: map[string]int{}}
}

func (m *memEventStore) AppendEvent(ctx context.Context, e *store.Event) error {
	if m.failed {
		return fmt.Errorf("store down")
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("evt-%d", len(m.events)+1)
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memEventStore) MarkUseful(ctx context.Context, memoryID, layer string) error {
	if m.failed {
		return fmt.Errorf("store down")
	}
	m.useful[layer+"|"+memoryID]++
	return nil
}

func (m *memEventStore) RecordAccess(ctx context.Context, memoryID, layer string) error {
	if m.failed {
		return fmt.Errorf("store down")
	}
	return nil
}

type memSessionStore struct {
	active  map[string]string
	summary map[string][]string
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{active: map[string]string{}, summary: map[string][]string{}}
}

func (m *memSessionStore) Begin(ctx context.Context, projectID, sessionID, task, phase string) error {
	m.active[projectID] = sessionID
	return nil
}

func (m *memSessionStore) RecordEvent(ctx context.Context, projectID, summary string) error {
	if _, ok := m.active[projectID]; !ok {
		return fmt.Errorf("no active session for %s", projectID)
	}
	m.summary[projectID] = append(m.summary[projectID], summary)
	return nil
}

func (m *memSessionStore) End(ctx context.Context, projectID string) error {
	delete(m.active, projectID)
	delete(m.summary, projectID)
	return nil
}

type fakeEpisodicReader struct{}

func (fakeEpisodicReader) EventsForSession(ctx context.Context, sessionID string) ([]consolidation.Event, error) {
	return nil, nil
}

func (fakeEpisodicReader) Search(ctx context.Context, query, projectID string, k int) ([]consolidation.Event, error) {
	return nil, nil
}

type fakeSemanticReader struct{}

func (fakeSemanticReader) MemoriesForSession(ctx context.Context, sessionID string) ([]consolidation.SemanticMemory, error) {
	return nil, nil
}

func (fakeSemanticReader) Search(ctx context.Context, query, projectID string, k int) ([]consolidation.SemanticMemory, error) {
	return nil, nil
}

// newTestHandler wires a Handler entirely from in-memory collaborators.
func newTestHandler(t *testing.T) (*memEventStore, *memSessionStore, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	layers := []recall.Layer{
		&fakeLayer{name: "semantic", items: []quality.ScoredItem{
			{MemoryID: "m1", Layer: "semantic", Content: "auth uses JWT", Score: 0.9},
		}},
		&fakeLayer{name: "episodic", items: []quality.ScoredItem{
			{MemoryID: "e1", Layer: "episodic", Content: "fixed token refresh bug", Score: 0.7},
		}},
	}
	tracker := quality.NewTracker(fakeQualityStore{}, logger)
	orch := recall.NewOrchestrator(layers, selector.New(logger),
		quality.NewReweighter(tracker, logger), nil, nil, recall.Config{}, logger)

	chains := temporal.NewBuilder(newMemLinkStore(), logger)
	measurer := consolidation.NewMeasurer(fakeEpisodicReader{}, fakeSemanticReader{}, logger)
	events := newMemEventStore()
	sessions := newMemSessionStore()

	h := NewHandler(orch, chains, measurer, events, sessions, logger)
	return events, sessions, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestRecallEndpoint(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/recall", map[string]interface{}{
		"query":      "how does auth work",
		"project_id": "proj-1",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("recall: expected 200, got %d", resp.StatusCode)
	}
	var result map[string]interface{}
	decodeJSON(t, resp, &result)

	if _, ok := result["tier_1"]; !ok {
		t.Error("expected tier_1 in response")
	}
	depth, ok := result["_cascade_depth"].(float64)
	if !ok || depth < 1 || depth > 3 {
		t.Errorf("expected _cascade_depth in 1..3, got %v", result["_cascade_depth"])
	}

	// Explicit depth is echoed back.
	resp = postJSON(t, ts, "/api/recall", map[string]interface{}{
		"query": "how does auth work", "cascade_depth": 1,
	})
	result = map[string]interface{}{}
	decodeJSON(t, resp, &result)
	if result["_cascade_depth"].(float64) != 1 {
		t.Errorf("expected depth 1, got %v", result["_cascade_depth"])
	}
	if _, ok := result["tier_2"]; ok {
		t.Error("depth 1 response should omit tier_2")
	}

	// Validation
	resp = postJSON(t, ts, "/api/recall", map[string]string{"project_id": "p"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing query, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAppendEvent(t *testing.T) {
	events, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/events", map[string]interface{}{
		"session_id": "sess-1",
		"project_id": "proj-1",
		"event_type": "action",
		"content":    "ran migration 001",
		"outcome":    "success",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("append event: expected 201, got %d", resp.StatusCode)
	}
	var created store.Event
	decodeJSON(t, resp, &created)
	if created.ID == "" {
		t.Error("expected server-assigned event ID")
	}
	if created.Timestamp.IsZero() {
		t.Error("expected server-assigned timestamp")
	}
	if len(events.events) != 1 {
		t.Errorf("expected 1 stored event, got %d", len(events.events))
	}

	// Validation — missing content
	resp = postJSON(t, ts, "/api/events", map[string]string{"session_id": "sess-1"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing content, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLinkLifecycle(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Close events produce a link.
	resp := postJSON(t, ts, "/api/links", map[string]interface{}{
		"from_id": "e1", "to_id": "e2", "delta_seconds": 45,
		"same_session": true, "file_overlap": true,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create link: expected 201, got %d", resp.StatusCode)
	}
	var link temporal.Link
	decodeJSON(t, resp, &link)
	if link.Type != temporal.LinkImmediatelyAfter {
		t.Errorf("expected immediately_after, got %q", link.Type)
	}

	// Far apart events produce nothing.
	resp = postJSON(t, ts, "/api/links", map[string]interface{}{
		"from_id": "e1", "to_id": "e9", "delta_seconds": 172800,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("distant link: expected 200, got %d", resp.StatusCode)
	}
	var noLink map[string]string
	decodeJSON(t, resp, &noLink)
	if noLink["status"] != "no link" {
		t.Errorf("expected 'no link' status, got %q", noLink["status"])
	}

	// Forward chain from e1.
	resp = getJSON(t, ts, "/api/links/e1/chain?direction=forward")
	if resp.StatusCode != 200 {
		t.Fatalf("chain: expected 200, got %d", resp.StatusCode)
	}
	var chain struct {
		EventID string           `json:"event_id"`
		Links   []*temporal.Link `json:"links"`
	}
	decodeJSON(t, resp, &chain)
	if len(chain.Links) != 1 {
		t.Fatalf("expected 1 chain link, got %d", len(chain.Links))
	}

	// Stats reflect the stored link.
	resp = getJSON(t, ts, "/api/links/stats")
	var stats temporal.Stats
	decodeJSON(t, resp, &stats)
	if stats.TotalLinks != 1 {
		t.Errorf("expected 1 total link, got %d", stats.TotalLinks)
	}

	// By-type filter.
	resp = getJSON(t, ts, "/api/links/type/immediately_after")
	var typed []*temporal.Link
	decodeJSON(t, resp, &typed)
	if len(typed) != 1 {
		t.Errorf("expected 1 immediately_after link, got %d", len(typed))
	}
}

func TestConsolidationMetricsEndpoint(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/consolidation/sess-1/metrics?project_id=proj-1")
	if resp.StatusCode != 200 {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
	var report consolidation.Report
	decodeJSON(t, resp, &report)
	if report.SessionID != "sess-1" {
		t.Errorf("expected session sess-1, got %q", report.SessionID)
	}
	// Empty session defaults.
	if report.PatternConsistency != 0.5 {
		t.Errorf("expected neutral pattern consistency, got %v", report.PatternConsistency)
	}
}

func TestQualityFeedback(t *testing.T) {
	events, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/quality/semantic/m1/useful", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("mark useful: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if events.useful["semantic|m1"] != 1 {
		t.Errorf("expected 1 useful mark, got %d", events.useful["semantic|m1"])
	}

	events.failed = true
	resp = postJSON(t, ts, "/api/quality/semantic/m1/useful", nil)
	if resp.StatusCode != 500 {
		t.Errorf("expected 500 on store failure, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionLifecycle(t *testing.T) {
	_, sessions, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/sessions", map[string]string{
		"project_id": "proj-1", "session_id": "sess-1",
		"task": "implement auth", "phase": "implementation",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("begin session: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if sessions.active["proj-1"] != "sess-1" {
		t.Errorf("expected active session sess-1, got %q", sessions.active["proj-1"])
	}

	resp = postJSON(t, ts, "/api/sessions/proj-1/events", map[string]string{
		"summary": "edited auth.go",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("record event: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/sessions/proj-1")
	if resp.StatusCode != 200 {
		t.Fatalf("end session: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if _, ok := sessions.active["proj-1"]; ok {
		t.Error("expected session to be cleared")
	}

	// Validation — missing session_id
	resp = postJSON(t, ts, "/api/sessions", map[string]string{"project_id": "p"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing session_id, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestNilDependenciesAnswer503(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	paths := []struct {
		method, path string
	}{
		{"POST", "/api/recall"},
		{"POST", "/api/events"},
		{"POST", "/api/links"},
		{"GET", "/api/links/stats"},
		{"GET", "/api/consolidation/s/metrics"},
		{"POST", "/api/quality/semantic/m1/useful"},
		{"POST", "/api/sessions"},
	}
	for _, p := range paths {
		req, _ := http.NewRequest(p.method, ts.URL+p.path, bytes.NewReader([]byte("{}")))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", p.method, p.path, err)
		}
		if resp.StatusCode != 503 {
			t.Errorf("%s %s: expected 503, got %d", p.method, p.path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
