// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// PartSize é a granularidade fixa do RPC de fetch do Telegram: offsets
// devem ser múltiplos de 512 KiB e o limit no máximo 512 KiB.
const PartSize = 512 * 1024

// DCs de arquivo existentes no Telegram.
const (
	minDC = 1
	maxDC = 5
)

// Engine é o motor de transferência: um DCManager por DC, construídos no
// startup. A key do DC home é semeada depois, em PostInit, porque a
// sessão principal só conhece a própria key após conectar.
type Engine struct {
	client   upstream.Client
	logger   *slog.Logger
	managers map[int]*DCManager
}

// NewEngine cria o engine com um pool por DC, cada um limitado a
// connLimit conexões.
func NewEngine(client upstream.Client, factory upstream.SenderFactory,
	connLimit int, logger *slog.Logger) *Engine {
	e := &Engine{
		client:   client,
		logger:   logger.With("component", "transfer"),
		managers: make(map[int]*DCManager, maxDC),
	}
	for dc := minDC; dc <= maxDC; dc++ {
		e.managers[dc] = newDCManager(dc, client, factory, connLimit, e.logger)
	}
	return e
}

// PostInit semeia o pool do DC home com a auth key da sessão principal.
// Deve ser chamado depois que o client conectou; downloads disparados
// antes ainda funcionam, só pagam um export de auth evitável.
func (e *Engine) PostInit() {
	home := e.client.HomeDC()
	if m, ok := e.managers[home]; ok {
		m.SeedAuthKey(e.client.HomeAuthKey())
		e.logger.Debug("seeded home DC auth key", "dc", home)
	}
}

// CanDownload responde se um download do arquivo pode começar sem
// enfileirar no pool do DC dele.
func (e *Engine) CanDownload(f *upstream.File) bool {
	m, ok := e.managers[f.DCID]
	if !ok {
		return false
	}
	return m.CanDownload()
}

// Download abre um stream lazy com os bytes de f em [offset, limit).
// O chamador deve consumir via Next e chamar Close em todo caminho de
// saída, inclusive cancelamento.
func (e *Engine) Download(ctx context.Context, f *upstream.File, offset, limit int64) (*Stream, error) {
	if offset < 0 || offset >= limit || limit > f.Size {
		return nil, fmt.Errorf("invalid range [%d, %d) for file of size %d", offset, limit, f.Size)
	}
	m, ok := e.managers[f.DCID]
	if !ok {
		return nil, fmt.Errorf("file points to unknown DC %d", f.DCID)
	}

	conn, err := m.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection to DC %d: %w", f.DCID, err)
	}

	firstPart := offset / PartSize
	lastPart := (limit - 1) / PartSize
	partCount := (f.Size + PartSize - 1) / PartSize

	s := &Stream{
		logger:    e.logger,
		mgr:       m,
		conn:      conn,
		loc:       f.Location,
		part:      firstPart,
		firstPart: firstPart,
		lastPart:  lastPart,
		firstCut:  offset % PartSize,
		lastKeep:  limit - lastPart*PartSize,
	}
	e.logger.Debug("starting download",
		"dc", f.DCID, "conn", conn.index,
		"first_part", firstPart, "last_part", lastPart, "part_count", partCount)
	return s, nil
}

// Stats retorna o snapshot dos pools de todos os DCs, em ordem.
func (e *Engine) Stats() []PoolStats {
	stats := make([]PoolStats, 0, maxDC)
	for dc := minDC; dc <= maxDC; dc++ {
		stats = append(stats, e.managers[dc].Stats())
	}
	return stats
}
