// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gotd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// Factory constrói senders gotd para um DC, implementando
// upstream.SenderFactory.
type Factory struct {
	apiID   int
	apiHash string
	logger  *slog.Logger
}

// NewFactory cria a fábrica de senders com as credenciais da aplicação.
func NewFactory(apiID int, apiHash string, logger *slog.Logger) *Factory {
	return &Factory{apiID: apiID, apiHash: apiHash, logger: logger}
}

// NewSender implementa upstream.SenderFactory.
func (f *Factory) NewSender(dc upstream.DC, key upstream.AuthKey) upstream.Sender {
	return &sender{
		apiID:   f.apiID,
		apiHash: f.apiHash,
		dc:      dc,
		key:     key,
		logger:  f.logger.With("component", "sender", "dc", dc.ID),
	}
}

// sender é uma sessão MTProto dedicada a um DC, implementando
// upstream.Sender. Cada sender roda seu próprio client gotd com sessão
// em memória; a chave chega pré-semeada (pool já conhecida) ou via
// ImportAuth/BindAuthKey após a primeira conexão.
type sender struct {
	apiID   int
	apiHash string
	dc      upstream.DC
	logger  *slog.Logger

	mu      sync.Mutex
	key     upstream.AuthKey
	storage *session.StorageMemory
	api     *tg.Client
	stop    context.CancelFunc
	done    chan struct{}
}

// Connect implementa upstream.Sender. A conexão roda numa goroutine
// própria até Close; ctx limita apenas o handshake.
func (s *sender) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *sender) connectLocked(ctx context.Context) error {
	s.storage = &session.StorageMemory{}
	if len(s.key) > 0 {
		if err := s.seedKeyLocked(ctx); err != nil {
			return err
		}
	}

	client := telegram.NewClient(s.apiID, s.apiHash, telegram.Options{
		DC: s.dc.ID,
		DCList: dcs.List{
			Options: []tg.DCOption{{ID: s.dc.ID, IPAddress: s.dc.IP, Port: s.dc.Port}},
		},
		SessionStorage: s.storage,
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			s.api = client.API()
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		// Falha antes do callback: destrava o Connect.
		select {
		case ready <- err:
		default:
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("connecting to DC %d: %w", s.dc.ID, err)
		}
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	s.stop = cancel
	s.done = done
	s.logger.Debug("sender connected", "addr", fmt.Sprintf("%s:%d", s.dc.IP, s.dc.Port))
	return nil
}

// seedKeyLocked grava a auth key conhecida na sessão em memória antes
// do handshake, evitando uma negociação de key nova.
func (s *sender) seedKeyLocked(ctx context.Context) error {
	loader := session.Loader{Storage: s.storage}
	err := loader.Save(ctx, &session.Data{
		DC:        s.dc.ID,
		Addr:      fmt.Sprintf("%s:%d", s.dc.IP, s.dc.Port),
		AuthKey:   s.key,
		AuthKeyID: authKeyID(s.key),
	})
	if err != nil {
		return fmt.Errorf("seeding auth key for DC %d: %w", s.dc.ID, err)
	}
	return nil
}

// BindAuthKey implementa upstream.Sender: religa a sessão com a key
// dada. Usado no fallback do DC home.
func (s *sender) BindAuthKey(ctx context.Context, key upstream.AuthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.key = key
	return s.connectLocked(ctx)
}

// ImportAuth implementa upstream.Sender: importa a autorização
// exportada e devolve a auth key negociada por este sender.
func (s *sender) ImportAuth(ctx context.Context, auth upstream.ExportedAuth) (upstream.AuthKey, error) {
	s.mu.Lock()
	api := s.api
	storage := s.storage
	s.mu.Unlock()
	if api == nil {
		return nil, fmt.Errorf("sender for DC %d is not connected", s.dc.ID)
	}

	_, err := api.AuthImportAuthorization(ctx, &tg.AuthImportAuthorizationRequest{
		ID:    auth.ID,
		Bytes: auth.Bytes,
	})
	if err != nil {
		return nil, fmt.Errorf("importing authorization on DC %d: %w", s.dc.ID, err)
	}

	loader := session.Loader{Storage: storage}
	data, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading negotiated auth key: %w", err)
	}

	key := upstream.AuthKey(data.AuthKey)
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return key, nil
}

// FetchChunk implementa upstream.Sender. Redirects de CDN não são
// suportados: contas de usuário normalmente não os recebem.
func (s *sender) FetchChunk(ctx context.Context, loc tg.InputFileLocationClass, offset int64, limit int) ([]byte, error) {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		return nil, fmt.Errorf("sender for DC %d is not connected", s.dc.ID)
	}

	resp, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:  true,
		Location: loc,
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching chunk at %d from DC %d: %w", offset, s.dc.ID, err)
	}

	switch f := resp.(type) {
	case *tg.UploadFile:
		return f.Bytes, nil
	case *tg.UploadFileCDNRedirect:
		return nil, fmt.Errorf("DC %d redirected to CDN, not supported", s.dc.ID)
	default:
		return nil, fmt.Errorf("unexpected upload.getFile response: %T", resp)
	}
}

// Close implementa upstream.Sender.
func (s *sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *sender) stopLocked() {
	if s.stop != nil {
		s.stop()
		<-s.done
		s.stop = nil
		s.api = nil
	}
}
