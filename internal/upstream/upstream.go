// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package upstream define o contrato com o backend Telegram: o client
// autenticado no DC home, a fábrica de senders por DC e os tipos
// compartilhados (mensagem, arquivo, evento). A implementação concreta
// vive em upstream/gotd; o resto do gateway depende só destas interfaces.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tg"
)

// ErrDCIDInvalid indica que o export de autorização foi pedido para o
// próprio DC home. O DC manager recupera localmente reusando a auth key
// da sessão principal.
var ErrDCIDInvalid = errors.New("upstream: DC_ID_INVALID")

// AuthKey é a credencial por DC, opaca para o resto do gateway.
type AuthKey []byte

// DC descreve o endpoint de um datacenter.
type DC struct {
	ID   int
	IP   string
	Port int
}

// ExportedAuth é o resultado de um export de autorização no DC home,
// pronto para import no DC destino.
type ExportedAuth struct {
	ID    int64
	Bytes []byte
}

// File descreve um anexo servível: metadados mais a localização opaca
// usada nos fetches de chunk.
type File struct {
	Name     string // vazio quando o upstream não fornece nome
	Ext      string // com ponto (".pdf"); pode ser vazio
	MIMEType string
	Size     int64
	DCID     int
	Location tg.InputFileLocationClass
}

// Message é uma mensagem resolvida por id. File é nil quando a mensagem
// não carrega anexo.
type Message struct {
	ID   int
	Date time.Time
	File *File
}

// Event é uma mensagem nova recebida pelo listener de updates. Peer é o
// input peer já resolvido (com access hash) para permitir resposta.
type Event struct {
	MsgID     int
	ChatID    int64
	FromID    int64
	IsPrivate bool
	IsGroup   bool
	IsChannel bool
	Date      time.Time
	File      *File
	Peer      tg.InputPeerClass
}

// Client é o canal RPC autenticado no DC home.
type Client interface {
	// GetDC resolve o endpoint de um DC (1..5).
	GetDC(ctx context.Context, dcID int) (DC, error)
	// ExportAuth exporta a autorização da sessão principal para dcID.
	// Retorna ErrDCIDInvalid quando dcID é o próprio DC home.
	ExportAuth(ctx context.Context, dcID int) (ExportedAuth, error)
	// GetMessage busca uma mensagem por peer e id. Retorna (nil, nil)
	// quando a mensagem não existe.
	GetMessage(ctx context.Context, peer tg.InputPeerClass, msgID int) (*Message, error)
	// HomeDC é o id do DC da sessão principal.
	HomeDC() int
	// HomeAuthKey é a auth key da sessão principal (seed do DC home).
	HomeAuthKey() AuthKey
}

// Sender é uma sessão MTProto com um DC específico. Os fetches de chunk
// podem ser pipelined pelo transporte subjacente; o chamador não precisa
// serializá-los.
type Sender interface {
	Connect(ctx context.Context) error
	// BindAuthKey faz o sender passar a usar a key dada (pode reconectar).
	// Usado no fallback de DC_ID_INVALID, quando a key do home é copiada.
	BindAuthKey(ctx context.Context, key AuthKey) error
	// ImportAuth importa uma autorização exportada e retorna a auth key
	// resultante deste sender.
	ImportAuth(ctx context.Context, auth ExportedAuth) (AuthKey, error)
	// FetchChunk busca um chunk. offset deve ser múltiplo de 512 KiB e
	// limit no máximo 512 KiB.
	FetchChunk(ctx context.Context, loc tg.InputFileLocationClass, offset int64, limit int) ([]byte, error)
	Close() error
}

// SenderFactory constrói senders para um DC, opcionalmente já com uma
// auth key conhecida.
type SenderFactory interface {
	NewSender(dc DC, key AuthKey) Sender
}

// Replier envia respostas a eventos de chat.
type Replier interface {
	Reply(ctx context.Context, evt Event, text string) error
	// ReplyLink responde com texto seguido de um link clicável.
	ReplyLink(ctx context.Context, evt Event, text, url string) error
}

// FileName retorna o nome do arquivo: o nome fornecido pelo upstream ou,
// na falta dele, o timestamp da mensagem mais a extensão.
func FileName(f *File, date time.Time) string {
	if f.Name != "" {
		return f.Name
	}
	return date.Format("2006-01-02_15:04:05") + f.Ext
}

// FileName é o nome servível do anexo da mensagem.
func (m *Message) FileName() string {
	return FileName(m.File, m.Date)
}
