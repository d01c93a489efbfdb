// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gotd/td/tg"
)

// Stream é o produtor lazy de blocos de um range de arquivo. Cada Next
// busca um chunk de 512 KiB e devolve a fatia dentro do range pedido
// (o primeiro e o último chunk são aparados). A concatenação dos blocos
// é exatamente file[offset:limit].
//
// O consumidor deve chamar Close em todo caminho de saída; Next após o
// fim ou após Close devolve io.EOF.
type Stream struct {
	logger *slog.Logger
	mgr    *DCManager
	conn   *Conn
	loc    tg.InputFileLocationClass

	part      int64 // próximo chunk a buscar
	firstPart int64
	lastPart  int64 // inclusivo
	firstCut  int64 // bytes descartados do início do primeiro chunk
	lastKeep  int64 // bytes mantidos do último chunk

	done    bool
	release sync.Once
}

// Next devolve o próximo bloco do range, ou io.EOF no fim. Cancelamento
// do context interrompe o stream sem emitir mais RPCs; a conexão é
// liberada nos dois casos.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.done || s.part > s.lastPart {
		s.Close()
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}

	chunk, err := s.conn.sender.FetchChunk(ctx, s.loc, s.part*PartSize, PartSize)
	if err != nil {
		s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching chunk %d: %w", s.part, err)
	}

	start, end := int64(0), int64(len(chunk))
	if s.part == s.firstPart {
		start = s.firstCut
	}
	if s.part == s.lastPart && s.lastKeep < end {
		end = s.lastKeep
	}
	if start > end {
		start = end
	}

	s.logger.Debug("chunk downloaded", "part", s.part, "last_part", s.lastPart)
	s.part++
	if s.part > s.lastPart {
		// Fim natural: libera a conexão antes do último bloco ser
		// escrito, encurtando a janela de ocupação do pool.
		s.Close()
	}
	return chunk[start:end], nil
}

// Close libera a conexão no pool. Idempotente.
func (s *Stream) Close() error {
	s.done = true
	s.release.Do(func() {
		s.mgr.Release(s.conn)
		s.logger.Debug("stream closed", "conn", s.conn.index)
	})
	return nil
}
