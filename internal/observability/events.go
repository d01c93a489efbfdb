// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"sync"
	"time"
)

// DownloadEvent é um download servido pelo gateway.
type DownloadEvent struct {
	Time   time.Time `json:"time"`
	ID     uint64    `json:"id"`
	Name   string    `json:"name"`
	ChatID int64     `json:"chat_id"`
	MsgID  int       `json:"msg_id"`
	DC     int       `json:"dc"`
	Offset int64     `json:"offset"`
	Limit  int64     `json:"limit"`
	Size   int64     `json:"size"`
	IP     string    `json:"ip"`
}

// EventRing é um ring buffer thread-safe com os últimos N downloads,
// descartando os mais antigos quando cheio.
type EventRing struct {
	mu  sync.RWMutex
	buf []DownloadEvent
	pos int // próxima posição de escrita
	cap int
	len int
}

// NewEventRing cria um ring buffer com capacidade fixa.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &EventRing{
		buf: make([]DownloadEvent, capacity),
		cap: capacity,
	}
}

// Push adiciona um evento ao buffer, num esquema circular.
func (r *EventRing) Push(e DownloadEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.mu.Lock()
	r.buf[r.pos] = e
	r.pos = (r.pos + 1) % r.cap
	if r.len < r.cap {
		r.len++
	}
	r.mu.Unlock()
}

// Recent retorna os últimos N eventos em ordem cronológica (mais antigo
// primeiro). Se limit <= 0 ou > len, retorna todos os disponíveis.
func (r *EventRing) Recent(limit int) []DownloadEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return []DownloadEvent{}
	}

	result := make([]DownloadEvent, n)
	// pos aponta para a PRÓXIMA posição de escrita: o mais recente está
	// em pos-1, o mais antigo em pos-len.
	start := (r.pos - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		result[i] = r.buf[(start+i)%r.cap]
	}
	return result
}

// Len retorna o número de eventos armazenados.
func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len
}
