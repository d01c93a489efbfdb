// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gotd/td/tg"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// fakeClient implementa upstream.Client sobre um arquivo em memória.
type fakeClient struct {
	homeDC  int
	homeKey upstream.AuthKey

	mu      sync.Mutex
	exports map[int]int // contagem de ExportAuth por DC
}

func newFakeClient(homeDC int) *fakeClient {
	return &fakeClient{
		homeDC:  homeDC,
		homeKey: upstream.AuthKey("home-key"),
		exports: make(map[int]int),
	}
}

func (c *fakeClient) GetDC(ctx context.Context, dcID int) (upstream.DC, error) {
	return upstream.DC{ID: dcID, IP: fmt.Sprintf("149.154.167.%d", dcID), Port: 443}, nil
}

func (c *fakeClient) ExportAuth(ctx context.Context, dcID int) (upstream.ExportedAuth, error) {
	c.mu.Lock()
	c.exports[dcID]++
	c.mu.Unlock()
	if dcID == c.homeDC {
		return upstream.ExportedAuth{}, upstream.ErrDCIDInvalid
	}
	return upstream.ExportedAuth{ID: int64(dcID), Bytes: []byte("exported")}, nil
}

func (c *fakeClient) GetMessage(ctx context.Context, peer tg.InputPeerClass, msgID int) (*upstream.Message, error) {
	return nil, nil
}

func (c *fakeClient) HomeDC() int { return c.homeDC }

func (c *fakeClient) HomeAuthKey() upstream.AuthKey { return c.homeKey }

func (c *fakeClient) exportCount(dcID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exports[dcID]
}

// fakeSender serve chunks de um buffer em memória, validando o contrato
// de alinhamento do upstream.
type fakeSender struct {
	t    *testing.T
	dc   upstream.DC
	file []byte

	mu        sync.Mutex
	key       upstream.AuthKey
	connected bool
	closed    bool

	fetches atomic.Int32
}

func (s *fakeSender) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *fakeSender) BindAuthKey(ctx context.Context, key upstream.AuthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	return nil
}

func (s *fakeSender) ImportAuth(ctx context.Context, auth upstream.ExportedAuth) (upstream.AuthKey, error) {
	key := upstream.AuthKey(fmt.Sprintf("imported-dc%d", s.dc.ID))
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return key, nil
}

func (s *fakeSender) FetchChunk(ctx context.Context, loc tg.InputFileLocationClass, offset int64, limit int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset%PartSize != 0 {
		s.t.Errorf("chunk offset %d is not a multiple of %d", offset, PartSize)
	}
	if limit > PartSize {
		s.t.Errorf("chunk limit %d above %d", limit, PartSize)
	}
	s.fetches.Add(1)

	if offset >= int64(len(s.file)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(s.file)) {
		end = int64(len(s.file))
	}
	return s.file[offset:end], nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeFactory registra cada sender criado e a key com que foi criado.
type fakeFactory struct {
	t    *testing.T
	file []byte

	mu      sync.Mutex
	senders []*fakeSender
	keys    []upstream.AuthKey
}

func (f *fakeFactory) NewSender(dc upstream.DC, key upstream.AuthKey) upstream.Sender {
	s := &fakeSender{t: f.t, dc: dc, file: f.file, key: key}
	f.mu.Lock()
	f.senders = append(f.senders, s)
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return s
}

func (f *fakeFactory) senderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.senders)
}

func (f *fakeFactory) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.senders {
		n += int(s.fetches.Load())
	}
	return n
}

// makeFile gera um arquivo determinístico de size bytes no DC dado.
func makeFile(t *testing.T, size int64, dcID int) (*upstream.File, []byte) {
	t.Helper()
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(size))
	rng.Read(data)
	f := &upstream.File{
		Name:     "foo.bin",
		MIMEType: "application/octet-stream",
		Size:     size,
		DCID:     dcID,
		Location: &tg.InputDocumentFileLocation{ID: 1},
	}
	return f, data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readAll consome o stream inteiro e devolve a concatenação dos blocos.
func readAll(t *testing.T, s *Stream) []byte {
	t.Helper()
	var buf bytes.Buffer
	for {
		block, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		buf.Write(block)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}
