// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"github.com/nishisan-dev/tg-filegate/internal/config"
	"github.com/nishisan-dev/tg-filegate/internal/fileid"
	"github.com/nishisan-dev/tg-filegate/internal/observability"
	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

type fakeResolver struct {
	msg *upstream.Message
	err error
}

func (f *fakeResolver) GetMessage(_ context.Context, _ tg.InputPeerClass, _ int) (*upstream.Message, error) {
	return f.msg, f.err
}

// fakeStream serve um slice em blocos de tamanho fixo.
type fakeStream struct {
	data  []byte
	pos   int
	block int
}

func (s *fakeStream) Next(_ context.Context) ([]byte, error) {
	if s.pos >= len(s.data) {
		return nil, io.EOF
	}
	end := s.pos + s.block
	if end > len(s.data) {
		end = len(s.data)
	}
	chunk := s.data[s.pos:end]
	s.pos = end
	return chunk, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeDownloader struct {
	data      []byte
	admit     bool
	downloads int
	lastOff   int64
	lastLimit int64
}

func (f *fakeDownloader) CanDownload(_ *upstream.File) bool { return f.admit }

func (f *fakeDownloader) Download(_ context.Context, _ *upstream.File, offset, limit int64) (BodyStream, error) {
	f.downloads++
	f.lastOff, f.lastLimit = offset, limit
	return &fakeStream{data: f.data[offset:limit], block: 1024}, nil
}

type fakeRecorder struct{ events []observability.DownloadEvent }

func (f *fakeRecorder) RecordDownload(ev observability.DownloadEvent) {
	f.events = append(f.events, ev)
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPInfo{Host: "localhost", Port: 8080, PublicURL: "http://localhost:8080"},
	}
}

func newFixture(t *testing.T, size int64) (*Handler, *fakeDownloader, *fakeRecorder, string) {
	t.Helper()

	data := bytes.Repeat([]byte("0123456789"), int(size/10+1))[:size]
	file := &upstream.File{Name: "video.mp4", MIMEType: "video/mp4", Size: size, DCID: 2,
		Location: &tg.InputDocumentFileLocation{ID: 1}}
	msg := &upstream.Message{ID: 7, Date: time.Now(), File: file}
	resolver := &fakeResolver{msg: msg}
	dl := &fakeDownloader{data: data, admit: true}
	rec := &fakeRecorder{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(testConfig(), resolver, dl, rec, logger)

	id := fileid.Pack(false, false, 1000, 7)
	return h, dl, rec, fmt.Sprintf("/%d/video.mp4", id)
}

func TestServe_FullDownload(t *testing.T) {
	h, dl, rec, path := newFixture(t, 5000)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.Len(); got != 5000 {
		t.Errorf("body has %d bytes, want 5000", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cl := w.Header().Get("Content-Length"); cl != "5000" {
		t.Errorf("Content-Length = %q", cl)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="video.mp4"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ar := w.Header().Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("Accept-Ranges = %q", ar)
	}
	if dl.lastOff != 0 || dl.lastLimit != 5000 {
		t.Errorf("download window = [%d, %d)", dl.lastOff, dl.lastLimit)
	}
	if len(rec.events) != 1 || rec.events[0].MsgID != 7 || rec.events[0].Size != 5000 {
		t.Errorf("unexpected recorded events: %+v", rec.events)
	}
}

func TestServe_RangeRequest(t *testing.T) {
	h, dl, _, path := newFixture(t, 5000)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=100-300")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Body.Len(); got != 200 {
		t.Errorf("body has %d bytes, want 200", got)
	}
	if cr := w.Header().Get("Content-Range"); cr != "bytes 100-5000/5000" {
		t.Errorf("Content-Range = %q", cr)
	}
	if dl.lastOff != 100 || dl.lastLimit != 300 {
		t.Errorf("download window = [%d, %d)", dl.lastOff, dl.lastLimit)
	}
}

func TestServe_OpenEndedRangeFromZeroIsPlainOK(t *testing.T) {
	h, _, _, path := newFixture(t, 100)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=0-")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for offset zero", w.Code)
	}
}

func TestServe_NotFoundCases(t *testing.T) {
	h, _, _, _ := newFixture(t, 100)
	mux := h.Routes()

	goodID := fileid.Pack(false, false, 1000, 7)
	cases := []struct {
		name string
		path string
	}{
		{"non-numeric id", "/abc/video.mp4"},
		{"zero msg id", fmt.Sprintf("/%d/video.mp4", fileid.Pack(false, false, 1000, 0))},
		{"zero chat id", fmt.Sprintf("/%d/video.mp4", fileid.Pack(false, false, 0, 7))},
		{"name mismatch", fmt.Sprintf("/%d/other.mp4", goodID)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", w.Code)
			}
		})
	}
}

func TestServe_MessageWithoutFile(t *testing.T) {
	h, _, _, path := newFixture(t, 100)
	h.resolver.(*fakeResolver).msg = &upstream.Message{ID: 7, Date: time.Now()}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestServe_UnsatisfiableRange(t *testing.T) {
	h, _, _, path := newFixture(t, 100)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=500-")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for offset beyond the file", w.Code)
	}
}

func TestServe_AdmissionRefusal(t *testing.T) {
	h, dl, rec, path := newFixture(t, 100)
	dl.admit = false

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "120" {
		t.Errorf("Retry-After = %q, want 120", ra)
	}
	if dl.downloads != 0 {
		t.Error("refused request must not open a stream")
	}
	if len(rec.events) != 0 {
		t.Error("refused request must not be recorded")
	}
}

func TestServe_HeadSkipsAdmissionAndBody(t *testing.T) {
	h, dl, rec, path := newFixture(t, 100)
	dl.admit = false // HEAD passa mesmo com a engine saturada

	req := httptest.NewRequest(http.MethodHead, path, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD returned %d body bytes", w.Body.Len())
	}
	if cl := w.Header().Get("Content-Length"); cl != "100" {
		t.Errorf("Content-Length = %q, want 100", cl)
	}
	if dl.downloads != 0 {
		t.Error("HEAD must not open a stream")
	}
	if len(rec.events) != 0 {
		t.Error("HEAD must not be recorded as a download")
	}
}

func TestServe_MetricsAccounting(t *testing.T) {
	h, _, _, path := newFixture(t, 2048)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	snap := h.MetricsSnapshot()
	if snap.Served != 1 {
		t.Errorf("Served = %d, want 1", snap.Served)
	}
	if snap.BytesTotal != 2048 {
		t.Errorf("BytesTotal = %d, want 2048", snap.BytesTotal)
	}
	if snap.ActiveStreams != 0 {
		t.Errorf("ActiveStreams = %d after completion, want 0", snap.ActiveStreams)
	}
}

func TestRequesterIP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	h := NewHandler(cfg, nil, nil, nil, logger)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := h.requesterIP(req); got != "192.0.2.1" {
		t.Errorf("untrusted: ip = %q, want the socket address", got)
	}

	cfg.HTTP.TrustForwardHeaders = true
	if got := h.requesterIP(req); got != "203.0.113.9" {
		t.Errorf("trusted: ip = %q, want the forwarded header", got)
	}
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		name   string
		header string
		size   int64
		offset int64
		limit  int64
		ok     bool
	}{
		{"no header", "", 1000, 0, 1000, true},
		{"full open", "bytes=-", 1000, 0, 1000, true},
		{"offset only", "bytes=100-", 1000, 100, 1000, true},
		{"window", "bytes=100-300", 1000, 100, 300, true},
		{"end clamped to size", "bytes=0-5000", 1000, 0, 1000, true},
		{"offset at size", "bytes=1000-", 1000, 0, 0, false},
		{"offset beyond size", "bytes=2000-", 1000, 0, 0, false},
		{"inverted window", "bytes=300-100", 1000, 0, 0, false},
		{"garbage start falls back", "bytes=xx-", 1000, 0, 1000, true},
		{"not a range unit", "lines=1-2", 1000, 0, 1000, true},
		{"empty file no range", "", 0, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			offset, limit, ok := parseRange(tc.header, tc.size)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if offset != tc.offset || limit != tc.limit {
				t.Errorf("window = [%d, %d), want [%d, %d)", offset, limit, tc.offset, tc.limit)
			}
		})
	}
}
