// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/tg-filegate/internal/transfer"
)

type fakeMetrics struct{ data MetricsData }

func (f fakeMetrics) MetricsSnapshot() MetricsData { return f.data }

type fakePools struct{ stats []transfer.PoolStats }

func (f fakePools) Stats() []transfer.PoolStats { return f.stats }

func newTestRouter(t *testing.T, store *Store) http.Handler {
	t.Helper()
	metrics := fakeMetrics{data: MetricsData{ActiveStreams: 2, Served: 10, BytesTotal: 4096}}
	pools := fakePools{stats: []transfer.PoolStats{{DC: 2, Conns: 1, Users: 3}}}
	acl := NewACL(nil, testLogger()) // só loopback
	return NewRouter(metrics, pools, store, nil, acl, testLogger())
}

func adminGet(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	rec := adminGet(newTestRouter(t, nil), "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["uptime"] == nil || body["version"] == nil {
		t.Error("health body missing uptime/version")
	}
}

func TestRouter_Metrics(t *testing.T) {
	rec := adminGet(newTestRouter(t, nil), "/api/v1/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rec.Code)
	}

	var body struct {
		Transfer MetricsData `json:"transfer"`
		Pools    []struct {
			DC    int `json:"dc"`
			Users int `json:"users"`
		} `json:"pools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding metrics body: %v", err)
	}
	if body.Transfer.Served != 10 || body.Transfer.BytesTotal != 4096 {
		t.Errorf("unexpected transfer metrics: %+v", body.Transfer)
	}
	if len(body.Pools) != 1 || body.Pools[0].DC != 2 || body.Pools[0].Users != 3 {
		t.Errorf("unexpected pool stats: %+v", body.Pools)
	}
}

func TestRouter_Downloads(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "h.jsonl"), 100, "gzip", nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	store.RecordDownload(DownloadEvent{ID: 1, Name: "x.bin", MsgID: 5})
	store.RecordDownload(DownloadEvent{ID: 2, Name: "y.bin", MsgID: 6})

	rec := adminGet(newTestRouter(t, store), "/api/v1/downloads?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("downloads returned %d", rec.Code)
	}
	var events []DownloadEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decoding downloads body: %v", err)
	}
	if len(events) != 1 || events[0].Name != "y.bin" {
		t.Errorf("expected only the latest event, got %+v", events)
	}
}

func TestRouter_DownloadsBadLimit(t *testing.T) {
	rec := adminGet(newTestRouter(t, nil), "/api/v1/downloads?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit returned %d, want 400", rec.Code)
	}
}

func TestRouter_ACLDenies(t *testing.T) {
	handler := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("external origin got %d, want 403", rec.Code)
	}
}
