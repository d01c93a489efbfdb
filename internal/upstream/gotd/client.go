// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gotd implementa o contrato upstream sobre a biblioteca
// gotd/td: a sessão principal autenticada, os senders por DC e o
// listener de updates.
package gotd

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/nishisan-dev/tg-filegate/internal/config"
	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// EventFunc recebe cada mensagem nova da sessão principal.
type EventFunc func(ctx context.Context, evt upstream.Event)

// Client é a sessão principal no DC home, implementando upstream.Client
// e upstream.Replier.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	client  *telegram.Client
	api     *tg.Client
	storage session.Storage
	onEvent EventFunc

	mu      sync.RWMutex
	homeDC  int
	homeKey upstream.AuthKey
	dcs     map[int]upstream.DC
}

// NewClient cria a sessão principal. onEvent pode ser nil (sem bot).
func NewClient(cfg *config.Config, onEvent EventFunc, logger *slog.Logger) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  logger.With("component", "telegram"),
		storage: &session.FileStorage{Path: cfg.Telegram.SessionName + ".session"},
		onEvent: onEvent,
		dcs:     make(map[int]upstream.DC),
	}

	dispatcher := tg.NewUpdateDispatcher()
	c.registerHandlers(dispatcher)

	c.client = telegram.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, telegram.Options{
		SessionStorage: c.storage,
		UpdateHandler:  dispatcher,
	})
	return c
}

// Run conecta, autentica se necessário e chama ready com a sessão
// pronta. Bloqueia até ready retornar ou o context ser cancelado.
func (c *Client) Run(ctx context.Context, ready func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(terminalAuth{}, auth.SendCodeOptions{})
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("authenticating session: %w", err)
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("resolving self: %w", err)
		}
		c.api = c.client.API()
		c.logger.Info("session authorized", "user", self.Username, "id", self.ID)

		if err := c.loadHomeSession(ctx); err != nil {
			return err
		}
		if err := c.refreshDCs(ctx); err != nil {
			return err
		}
		if err := c.fixupHomeDC(ctx); err != nil {
			return err
		}
		return ready(ctx)
	})
}

// API expõe o client RPC cru para os colaboradores do pacote.
func (c *Client) API() *tg.Client { return c.api }

// loadHomeSession extrai DC e auth key da sessão persistida, para
// semear o pool do DC home sem export.
func (c *Client) loadHomeSession(ctx context.Context) error {
	loader := session.Loader{Storage: c.storage}
	data, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session data: %w", err)
	}

	c.mu.Lock()
	c.homeDC = data.DC
	c.homeKey = upstream.AuthKey(data.AuthKey)
	c.mu.Unlock()

	c.logger.Debug("home session loaded", "dc", data.DC)
	return nil
}

// refreshDCs atualiza a tabela de endpoints via help.getConfig,
// preferindo opções IPv4 não-CDN. Opções media-only servem: o gateway
// só faz download.
func (c *Client) refreshDCs(ctx context.Context) error {
	conf, err := c.api.HelpGetConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching DC table: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, opt := range conf.DCOptions {
		if opt.Ipv6 || opt.CDN || opt.TCPObfuscatedOnly {
			continue
		}
		if _, seen := c.dcs[opt.ID]; seen && !opt.MediaOnly {
			continue
		}
		c.dcs[opt.ID] = upstream.DC{ID: opt.ID, IP: opt.IPAddress, Port: opt.Port}
	}
	c.logger.Debug("DC table refreshed", "count", len(c.dcs))
	return nil
}

// fixupHomeDC corrige o id do DC home quando a sessão gravou um id que
// não corresponde ao endereço conectado (sessões migradas fazem isso).
// A correção é persistida para os próximos starts.
func (c *Client) fixupHomeDC(ctx context.Context) error {
	loader := session.Loader{Storage: c.storage}
	data, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session for DC fixup: %w", err)
	}

	host, _, err := net.SplitHostPort(data.Addr)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	var fixed int
	for id, dc := range c.dcs {
		if dc.IP == host && id != c.homeDC {
			fixed = id
			c.homeDC = id
			break
		}
	}
	old := data.DC
	c.mu.Unlock()

	if fixed == 0 {
		return nil
	}

	c.logger.Warn("fixed DC ID in session", "from", old, "to", fixed)
	data.DC = fixed
	if err := loader.Save(ctx, data); err != nil {
		return fmt.Errorf("persisting DC fixup: %w", err)
	}
	return nil
}

// GetDC implementa upstream.Client.
func (c *Client) GetDC(ctx context.Context, dcID int) (upstream.DC, error) {
	c.mu.RLock()
	dc, ok := c.dcs[dcID]
	c.mu.RUnlock()
	if ok {
		return dc, nil
	}

	// Tabela pode estar desatualizada; tenta uma vez antes de desistir.
	if err := c.refreshDCs(ctx); err != nil {
		return upstream.DC{}, err
	}
	c.mu.RLock()
	dc, ok = c.dcs[dcID]
	c.mu.RUnlock()
	if !ok {
		return upstream.DC{}, fmt.Errorf("unknown DC %d", dcID)
	}
	return dc, nil
}

// ExportAuth implementa upstream.Client. Mapeia DC_ID_INVALID para o
// sentinel que dispara o fallback do DC home.
func (c *Client) ExportAuth(ctx context.Context, dcID int) (upstream.ExportedAuth, error) {
	exported, err := c.api.AuthExportAuthorization(ctx, dcID)
	if err != nil {
		if tgerr.Is(err, "DC_ID_INVALID") {
			return upstream.ExportedAuth{}, upstream.ErrDCIDInvalid
		}
		return upstream.ExportedAuth{}, fmt.Errorf("exporting authorization to DC %d: %w", dcID, err)
	}
	return upstream.ExportedAuth{ID: exported.ID, Bytes: exported.Bytes}, nil
}

// GetMessage implementa upstream.Client. Retorna (nil, nil) quando a
// mensagem não existe ou foi apagada.
func (c *Client) GetMessage(ctx context.Context, peer tg.InputPeerClass, msgID int) (*upstream.Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}}

	var (
		resp tg.MessagesMessagesClass
		err  error
	)
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		resp, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		resp, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching message %d: %w", msgID, err)
	}

	msg := findMessage(resp, msgID)
	if msg == nil {
		return nil, nil
	}
	return mapMessage(msg), nil
}

// HomeDC implementa upstream.Client.
func (c *Client) HomeDC() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.homeDC
}

// HomeAuthKey implementa upstream.Client.
func (c *Client) HomeAuthKey() upstream.AuthKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.homeKey
}

// findMessage localiza a mensagem pedida na resposta, que pode vir em
// três formas e misturada com mensagens vizinhas.
func findMessage(resp tg.MessagesMessagesClass, msgID int) *tg.Message {
	var list []tg.MessageClass
	switch r := resp.(type) {
	case *tg.MessagesMessages:
		list = r.Messages
	case *tg.MessagesMessagesSlice:
		list = r.Messages
	case *tg.MessagesChannelMessages:
		list = r.Messages
	default:
		return nil
	}

	for _, m := range list {
		if msg, ok := m.(*tg.Message); ok && msg.ID == msgID {
			return msg
		}
	}
	return nil
}

// authKeyID calcula o id da auth key: os 8 bytes baixos do SHA1.
func authKeyID(key []byte) []byte {
	sum := sha1.Sum(key)
	return sum[12:20]
}
