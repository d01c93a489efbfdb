// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transfer implementa o plano de dados do gateway: o pool de
// conexões por DC, o bootstrap de auth keys e a tradução de ranges HTTP
// em fetches de chunk de 512 KiB.
package transfer

import (
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// Conn é uma sessão autenticada com um DC. O mutex serializa apenas
// bootstrap e rebind de auth key; os fetches de chunk em regime normal
// são pipelined pelo sender e não passam pelo lock.
type Conn struct {
	sender upstream.Sender
	index  int

	mu    sync.Mutex
	users atomic.Int32 // streams ativos multiplexados nesta conexão
}

// Users retorna o número de streams ativos nesta conexão.
func (c *Conn) Users() int {
	return int(c.users.Load())
}
