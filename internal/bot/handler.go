// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package bot responde a mensagens recebidas pela sessão: cunha a URL
// pública de download para cada anexo e orienta chats sem arquivo.
package bot

import (
	"context"
	"log/slog"

	"github.com/nishisan-dev/tg-filegate/internal/config"
	"github.com/nishisan-dev/tg-filegate/internal/fileid"
	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// Handler processa eventos de mensagem nova.
type Handler struct {
	cfg     *config.Config
	replier upstream.Replier
	logger  *slog.Logger
}

// NewHandler cria o handler de eventos de chat.
func NewHandler(cfg *config.Config, replier upstream.Replier, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		replier: replier,
		logger:  logger.With("component", "bot"),
	}
}

// HandleEvent responde a uma mensagem nova. Erros de resposta são
// logados e absorvidos: um reply falho não pode derrubar o listener de
// updates.
func (h *Handler) HandleEvent(ctx context.Context, evt upstream.Event) {
	if !evt.IsPrivate {
		if err := h.replier.Reply(ctx, evt, h.cfg.Messages.GroupChat); err != nil {
			h.logger.Debug("failed to reply in group chat", "chat", evt.ChatID, "error", err)
		}
		return
	}

	if evt.File == nil {
		if err := h.replier.Reply(ctx, evt, h.cfg.Messages.Start); err != nil {
			h.logger.Debug("failed to send start message", "chat", evt.ChatID, "error", err)
		}
		return
	}

	id := fileid.Pack(evt.IsGroup, evt.IsChannel, evt.ChatID, evt.MsgID)
	name := upstream.FileName(evt.File, evt.Date)
	url := h.cfg.PublicLink(id, name)

	h.logger.Info("link to download file", "chat", evt.ChatID, "msg", evt.MsgID, "url", url)
	if err := h.replier.ReplyLink(ctx, evt, "Link to download file:", url); err != nil {
		h.logger.Debug("failed to reply with download link", "chat", evt.ChatID, "error", err)
	}
}
