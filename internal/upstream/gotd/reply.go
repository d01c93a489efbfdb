// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gotd

import (
	"context"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// Reply implementa upstream.Replier.
func (c *Client) Reply(ctx context.Context, evt upstream.Event, text string) error {
	_, err := message.NewSender(c.api).To(evt.Peer).Reply(evt.MsgID).Text(ctx, text)
	return err
}

// ReplyLink implementa upstream.Replier: texto seguido do link como
// entity clicável, sem depender de parse de markdown no servidor.
func (c *Client) ReplyLink(ctx context.Context, evt upstream.Event, text, url string) error {
	_, err := message.NewSender(c.api).To(evt.Peer).Reply(evt.MsgID).StyledText(ctx,
		styling.Plain(text+" "),
		styling.TextURL(url, url),
	)
	return err
}
