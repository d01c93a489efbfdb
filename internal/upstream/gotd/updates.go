// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gotd

import (
	"context"
	"time"

	"github.com/gotd/td/tg"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// registerHandlers liga o dispatcher de updates ao callback de eventos.
func (c *Client) registerHandlers(d tg.UpdateDispatcher) {
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.dispatch(ctx, e, u.Message)
		return nil
	})
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.dispatch(ctx, e, u.Message)
		return nil
	})
}

func (c *Client) dispatch(ctx context.Context, e tg.Entities, raw tg.MessageClass) {
	if c.onEvent == nil {
		return
	}
	msg, ok := raw.(*tg.Message)
	if !ok || msg.Out {
		return
	}

	evt, ok := c.buildEvent(e, msg)
	if !ok {
		c.logger.Debug("dropping update without resolvable peer", "msg", msg.ID)
		return
	}
	c.onEvent(ctx, evt)
}

// buildEvent converte o update num evento neutro, resolvendo o input
// peer (com access hash) a partir das entities do próprio update.
func (c *Client) buildEvent(e tg.Entities, msg *tg.Message) (upstream.Event, bool) {
	evt := upstream.Event{
		MsgID: msg.ID,
		Date:  time.Unix(int64(msg.Date), 0),
		File:  mapMedia(msg.Media),
	}

	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		evt.FromID = from.UserID
	}

	switch peer := msg.PeerID.(type) {
	case *tg.PeerUser:
		user, ok := e.Users[peer.UserID]
		if !ok || user == nil {
			return upstream.Event{}, false
		}
		evt.ChatID = peer.UserID
		evt.IsPrivate = true
		evt.Peer = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}

	case *tg.PeerChat:
		evt.ChatID = peer.ChatID
		evt.IsGroup = true
		evt.Peer = &tg.InputPeerChat{ChatID: peer.ChatID}

	case *tg.PeerChannel:
		ch, ok := e.Channels[peer.ChannelID]
		if !ok || ch == nil {
			return upstream.Event{}, false
		}
		evt.ChatID = peer.ChannelID
		evt.IsChannel = true
		// Supergrupos são canais na superfície MTProto, mas grupos para
		// quem conversa neles.
		evt.IsGroup = ch.Megagroup
		evt.Peer = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}

	default:
		return upstream.Event{}, false
	}

	return evt, true
}
