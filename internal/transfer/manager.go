// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// DCManager mantém o pool de conexões de um DC: resolve o endpoint sob
// demanda, faz o bootstrap da auth key (uma única vez por processo) e
// distribui streams pela conexão menos carregada, crescendo o pool até
// o limite quando todas já carregam load.
type DCManager struct {
	dcID    int
	client  upstream.Client
	factory upstream.SenderFactory
	limit   int
	logger  *slog.Logger

	// mu protege a lista, o endpoint cacheado e a auth key. O bootstrap
	// de uma conexão nova roda com mu seguro: isso também blinda o
	// handshake contra o cancelamento do request que o disparou.
	mu      sync.Mutex
	dc      *upstream.DC
	authKey upstream.AuthKey
	conns   []*Conn
}

// PoolStats é um snapshot do estado do pool de um DC.
type PoolStats struct {
	DC    int `json:"dc"`
	Conns int `json:"connections"`
	Users int `json:"users"`
}

func newDCManager(dcID int, client upstream.Client, factory upstream.SenderFactory,
	limit int, logger *slog.Logger) *DCManager {
	return &DCManager{
		dcID:    dcID,
		client:  client,
		factory: factory,
		limit:   limit,
		logger:  logger.With("dc", dcID),
	}
}

// SeedAuthKey registra a auth key do DC sem bootstrap (usado para o DC
// home, cuja key vem da sessão principal). Uma key já registrada nunca
// é sobrescrita.
func (m *DCManager) SeedAuthKey(key upstream.AuthKey) {
	if key == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authKey == nil {
		m.authKey = key
	}
}

// Acquire devolve a conexão menos carregada do pool, criando uma nova
// quando não existe nenhuma ociosa e ainda há espaço para crescer. O
// users-count da conexão devolvida já vem incrementado; todo Acquire
// bem-sucedido exige um Release.
func (m *DCManager) Acquire(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Conn
	for _, c := range m.conns {
		if best == nil || c.users.Load() < best.users.Load() {
			best = c
		}
	}

	if best == nil || (best.users.Load() >= 1 && len(m.conns) < m.limit) {
		// Blindado do cancelamento do stream que pediu a conexão: um
		// handshake com export de auth em andamento não pode ser morto
		// pela metade por um client HTTP desistindo.
		c, err := m.bootstrap(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		m.conns = append(m.conns, c)
		best = c
	}

	// O lock da conexão evita corrida com um rebind/reconnect em curso.
	best.mu.Lock()
	best.users.Add(1)
	best.mu.Unlock()
	return best, nil
}

// Release devolve uma conexão ao pool. Conexões nunca são destruídas; o
// cap do pool impede crescimento sem limite.
func (m *DCManager) Release(c *Conn) {
	c.users.Add(-1)
}

// bootstrap cria e autentica uma conexão nova. Chamado com m.mu seguro.
func (m *DCManager) bootstrap(ctx context.Context) (*Conn, error) {
	if m.dc == nil {
		dc, err := m.client.GetDC(ctx, m.dcID)
		if err != nil {
			return nil, fmt.Errorf("resolving DC %d: %w", m.dcID, err)
		}
		m.dc = &dc
	}

	c := &Conn{
		sender: m.factory.NewSender(*m.dc, m.authKey),
		index:  len(m.conns),
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m.logger.Debug("connecting sender", "index", c.index)
	if err := c.sender.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to DC %d: %w", m.dcID, err)
	}

	if m.authKey == nil {
		m.logger.Debug("exporting auth")
		auth, err := m.client.ExportAuth(ctx, m.dcID)
		switch {
		case errors.Is(err, upstream.ErrDCIDInvalid):
			// O DC home já é este DC: copia a auth key da sessão
			// principal para o sender e para o manager.
			m.logger.Debug("DC is home, reusing main session auth key")
			key := m.client.HomeAuthKey()
			if err := c.sender.BindAuthKey(ctx, key); err != nil {
				c.sender.Close()
				return nil, fmt.Errorf("binding home auth key on DC %d: %w", m.dcID, err)
			}
			m.authKey = key
		case err != nil:
			c.sender.Close()
			return nil, fmt.Errorf("exporting auth to DC %d: %w", m.dcID, err)
		default:
			key, err := c.sender.ImportAuth(ctx, auth)
			if err != nil {
				c.sender.Close()
				return nil, fmt.Errorf("importing auth on DC %d: %w", m.dcID, err)
			}
			m.authKey = key
		}
	}
	return c, nil
}

// CanDownload responde se um download novo pode começar sem enfileirar:
// há conexão ociosa ou espaço para crescer o pool.
func (m *DCManager) CanDownload() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) < m.limit {
		return true
	}
	for _, c := range m.conns {
		if c.users.Load() == 0 {
			return true
		}
	}
	return false
}

// Stats retorna um snapshot do pool.
func (m *DCManager) Stats() PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := PoolStats{DC: m.dcID, Conns: len(m.conns)}
	for _, c := range m.conns {
		s.Users += int(c.users.Load())
	}
	return s
}
