// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fileid empacota (tipo de chat, chat-id, msg-id) em um único
// inteiro opaco usado nas URLs públicas, e o caminho inverso. O layout:
//
//	bit 0        flag de grupo
//	bit 1        flag de canal
//	bits 2..33   chat-id (32 bits)
//	bits 34..65  msg-id (32 bits)
//
// IDs do Telegram cabem em 32 bits para esses tipos de peer; os campos
// são truncados no pack.
package fileid

import "github.com/gotd/td/tg"

const (
	packBits    = 32
	packBitMask = (1 << packBits) - 1

	groupBit   = 0b01
	channelBit = 0b10

	chatIDOffset = 2
	msgIDOffset  = packBits + chatIDOffset
)

// Kind é o tipo de peer codificado no id.
type Kind int

const (
	KindUser Kind = iota
	KindGroup
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindChannel:
		return "channel"
	default:
		return "user"
	}
}

// Peer identifica o chat dono da mensagem.
type Peer struct {
	Kind   Kind
	ChatID int64
}

// Pack monta o resource-id a partir das flags do chat e dos ids.
func Pack(isGroup, isChannel bool, chatID int64, msgID int) uint64 {
	var id uint64
	if isGroup {
		id |= groupBit
	}
	if isChannel {
		id |= channelBit
	}
	id |= (uint64(chatID) & packBitMask) << chatIDOffset
	id |= (uint64(msgID) & packBitMask) << msgIDOffset
	return id
}

// Unpack extrai o peer e o msg-id de um resource-id. Um id com chat-id ou
// msg-id zero é inválido; o chamador decide como rejeitar.
func Unpack(id uint64) (Peer, int) {
	chatID := int64(id >> chatIDOffset & packBitMask)
	msgID := int(id >> msgIDOffset & packBitMask)

	kind := KindUser
	if id&channelBit != 0 {
		kind = KindChannel
	} else if id&groupBit != 0 {
		kind = KindGroup
	}
	return Peer{Kind: kind, ChatID: chatID}, msgID
}

// InputPeer converte o peer para o tipo de wire do Telegram. Access hashes
// ficam zerados; o upstream os trata como opcionais para esses peers.
func (p Peer) InputPeer() tg.InputPeerClass {
	switch p.Kind {
	case KindChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChatID}
	case KindGroup:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	default:
		return &tg.InputPeerUser{UserID: p.ChatID}
	}
}
