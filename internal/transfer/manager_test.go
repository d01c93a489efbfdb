// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"context"
	"sync"
	"testing"
)

func TestAcquire_GrowthBoundedByLimit(t *testing.T) {
	// S6: 25 streams simultâneos com connection_limit=4.
	const streams, limit = 25, 4
	_, data := makeFile(t, PartSize, 2)
	engine, client, factory := newTestEngine(t, 1, limit, data)
	mgr := engine.managers[2]

	var mu sync.Mutex
	var conns []*Conn

	var wg sync.WaitGroup
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := mgr.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if n := factory.senderCount(); n > limit {
		t.Errorf("created %d connections, cap is %d", n, limit)
	}
	stats := mgr.Stats()
	if stats.Conns > limit {
		t.Errorf("pool has %d connections, cap is %d", stats.Conns, limit)
	}
	if stats.Users != streams {
		t.Errorf("pool users = %d, want %d", stats.Users, streams)
	}

	// Distribuição least-loaded: nenhum conn acima de ceil(25/4).
	for _, c := range mgr.conns {
		if c.Users() > (streams+limit-1)/limit {
			t.Errorf("connection %d carries %d users, above fair ceiling", c.index, c.Users())
		}
	}

	// Export de auth aconteceu uma única vez para o DC.
	if n := client.exportCount(2); n != 1 {
		t.Errorf("expected exactly 1 auth export, got %d", n)
	}

	for _, c := range conns {
		mgr.Release(c)
	}
	for _, c := range mgr.conns {
		if c.Users() != 0 {
			t.Errorf("connection %d still has %d users after release", c.index, c.Users())
		}
	}
}

func TestAcquire_ReusesIdleConnectionBeforeGrowing(t *testing.T) {
	_, data := makeFile(t, PartSize, 2)
	engine, _, factory := newTestEngine(t, 1, 20, data)
	mgr := engine.managers[2]

	a, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected growth while the only connection was busy")
	}

	mgr.Release(a)

	c, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Error("expected the idle connection to be reused")
	}
	if n := factory.senderCount(); n != 2 {
		t.Errorf("expected 2 connections, got %d", n)
	}
}

func TestBootstrap_HomeDCFallback(t *testing.T) {
	// Export no próprio DC home responde DC_ID_INVALID; a key da sessão
	// principal deve ser copiada para o sender e para o manager.
	_, data := makeFile(t, PartSize, 1)
	engine, client, factory := newTestEngine(t, 1, 20, data)
	mgr := engine.managers[1]

	c, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer mgr.Release(c)

	sender := factory.senders[0]
	sender.mu.Lock()
	key := sender.key
	sender.mu.Unlock()
	if !bytes.Equal(key, client.HomeAuthKey()) {
		t.Error("expected sender bound to the home auth key")
	}

	mgr.mu.Lock()
	mgrKey := mgr.authKey
	mgr.mu.Unlock()
	if !bytes.Equal(mgrKey, client.HomeAuthKey()) {
		t.Error("expected manager auth key seeded with the home key")
	}
}

func TestBootstrap_SecondConnectionReusesKey(t *testing.T) {
	_, data := makeFile(t, PartSize, 3)
	engine, client, factory := newTestEngine(t, 1, 20, data)
	mgr := engine.managers[3]

	a, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Release(a)
	defer mgr.Release(b)

	if n := client.exportCount(3); n != 1 {
		t.Errorf("expected 1 export, got %d", n)
	}
	// A segunda conexão já nasce com a key do pool.
	factory.mu.Lock()
	secondKey := factory.keys[1]
	factory.mu.Unlock()
	if secondKey == nil {
		t.Error("expected second sender to be created with the pool auth key")
	}
}

func TestPostInit_SeedsHomeDC(t *testing.T) {
	_, data := makeFile(t, PartSize, 1)
	engine, client, _ := newTestEngine(t, 1, 20, data)
	engine.PostInit()

	mgr := engine.managers[1]
	c, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Release(c)

	// Com a key semeada, nenhum export deve acontecer.
	if n := client.exportCount(1); n != 0 {
		t.Errorf("expected no auth export on seeded home DC, got %d", n)
	}
}

func TestSeedAuthKey_NeverOverwrites(t *testing.T) {
	_, data := makeFile(t, PartSize, 2)
	engine, _, _ := newTestEngine(t, 1, 20, data)
	mgr := engine.managers[2]

	mgr.SeedAuthKey([]byte("first"))
	mgr.SeedAuthKey([]byte("second"))

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if string(mgr.authKey) != "first" {
		t.Errorf("auth key overwritten: %q", mgr.authKey)
	}
}

func TestCanDownload(t *testing.T) {
	_, data := makeFile(t, PartSize, 2)
	engine, _, _ := newTestEngine(t, 1, 2, data)
	mgr := engine.managers[2]

	if !mgr.CanDownload() {
		t.Error("empty pool with room to grow should accept downloads")
	}

	a, _ := mgr.Acquire(context.Background())
	b, _ := mgr.Acquire(context.Background())
	if mgr.CanDownload() {
		t.Error("full pool with all connections busy should refuse")
	}

	mgr.Release(a)
	if !mgr.CanDownload() {
		t.Error("idle connection in a full pool should accept")
	}
	mgr.Release(b)
}
