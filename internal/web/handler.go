// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package web implementa o listener HTTP público do gateway: as rotas de
// download com suporte a Range, a admissão e os headers de resposta.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gotd/td/tg"

	"github.com/nishisan-dev/tg-filegate/internal/config"
	"github.com/nishisan-dev/tg-filegate/internal/fileid"
	"github.com/nishisan-dev/tg-filegate/internal/observability"
	"github.com/nishisan-dev/tg-filegate/internal/transfer"
	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// retryAfter é o valor de Retry-After devolvido quando a admissão recusa.
const retryAfter = "120"

// MessageResolver é o subconjunto do client upstream que o handler usa
// para resolver mensagens por id.
type MessageResolver interface {
	GetMessage(ctx context.Context, peer tg.InputPeerClass, msgID int) (*upstream.Message, error)
}

// BodyStream é a sequência lazy de blocos servida como corpo da resposta.
type BodyStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Downloader abre streams de download e responde a admissão.
type Downloader interface {
	CanDownload(f *upstream.File) bool
	Download(ctx context.Context, f *upstream.File, offset, limit int64) (BodyStream, error)
}

// NewEngineDownloader adapta o transfer.Engine à interface Downloader.
func NewEngineDownloader(e *transfer.Engine) Downloader {
	return engineDownloader{e}
}

type engineDownloader struct{ engine *transfer.Engine }

func (d engineDownloader) CanDownload(f *upstream.File) bool { return d.engine.CanDownload(f) }

func (d engineDownloader) Download(ctx context.Context, f *upstream.File, offset, limit int64) (BodyStream, error) {
	return d.engine.Download(ctx, f, offset, limit)
}

// DownloadRecorder registra downloads servidos no histórico de
// observabilidade. Pode ser nil (histórico desabilitado).
type DownloadRecorder interface {
	RecordDownload(ev observability.DownloadEvent)
}

// Handler serve GET/HEAD /{id}/{name}.
type Handler struct {
	cfg      *config.Config
	resolver MessageResolver
	engine   Downloader
	recorder DownloadRecorder
	logger   *slog.Logger

	// Métricas observáveis pelo stats reporter e pela web UI
	BytesOut      atomic.Int64 // bytes servidos (acumulado desde o último reset)
	BytesTotal    atomic.Int64 // bytes servidos (cumulativo)
	ActiveStreams atomic.Int32
	Served        atomic.Int64 // downloads iniciados (cumulativo)
}

// MetricsSnapshot implementa observability.MetricsSource.
func (h *Handler) MetricsSnapshot() observability.MetricsData {
	return observability.MetricsData{
		ActiveStreams: h.ActiveStreams.Load(),
		Served:        h.Served.Load(),
		BytesTotal:    h.BytesTotal.Load(),
	}
}

// NewHandler cria o Handler das rotas públicas. recorder pode ser nil.
func NewHandler(cfg *config.Config, resolver MessageResolver, engine Downloader,
	recorder DownloadRecorder, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		resolver: resolver,
		engine:   engine,
		recorder: recorder,
		logger:   logger.With("component", "web"),
	}
}

// Routes monta o roteador público.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{id}/{name}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, false)
	})
	mux.HandleFunc("HEAD /{id}/{name}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, true)
	})
	return mux
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, head bool) {
	ctx := r.Context()

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("name")

	peer, msgID := fileid.Unpack(id)
	if peer.ChatID == 0 || msgID == 0 {
		http.NotFound(w, r)
		return
	}

	msg, err := h.resolver.GetMessage(ctx, peer.InputPeer(), msgID)
	if err != nil {
		h.logger.Debug("message lookup failed", "id", id, "error", err)
		http.NotFound(w, r)
		return
	}
	// A comparação byte a byte do nome impede que ids chutados sirvam
	// conteúdo alheio sob um nome escolhido pelo atacante.
	if msg == nil || msg.File == nil || msg.FileName() != name {
		http.NotFound(w, r)
		return
	}

	file := msg.File
	offset, limit, ok := parseRange(r.Header.Get("Range"), file.Size)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if !head {
		if !h.engine.CanDownload(file) {
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}

	status := http.StatusOK
	if offset > 0 {
		status = http.StatusPartialContent
	}
	hdr := w.Header()
	hdr.Set("Content-Type", file.MIMEType)
	hdr.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, file.Size, file.Size))
	hdr.Set("Content-Length", strconv.FormatInt(limit-offset, 10))
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	hdr.Set("Accept-Ranges", "bytes")

	if head {
		w.WriteHeader(status)
		return
	}

	stream, err := h.engine.Download(ctx, file, offset, limit)
	if err != nil {
		h.logger.Debug("opening download stream failed", "id", id, "error", err)
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer stream.Close()

	ip := h.requesterIP(r)
	h.logger.Info("serving file", "msg", msgID, "chat", peer.ChatID, "to", ip)
	h.Served.Add(1)
	h.ActiveStreams.Add(1)
	defer h.ActiveStreams.Add(-1)

	if h.recorder != nil {
		h.recorder.RecordDownload(observability.DownloadEvent{
			Time:   time.Now(),
			ID:     id,
			Name:   name,
			ChatID: peer.ChatID,
			MsgID:  msgID,
			DC:     file.DCID,
			Offset: offset,
			Limit:  limit,
			Size:   file.Size,
			IP:     ip,
		})
	}

	w.WriteHeader(status)
	h.writeBody(ctx, w, stream)
}

// writeBody bombeia blocos do stream para a resposta até o fim, erro de
// transporte ou desconexão do client. Cancelamentos terminam o corpo em
// silêncio: o client só vê a resposta truncada.
func (h *Handler) writeBody(ctx context.Context, w http.ResponseWriter, stream BodyStream) {
	var out io.Writer = w
	if h.cfg.Limits.SpeedLimit > 0 {
		out = transfer.NewThrottledWriter(ctx, w, h.cfg.Limits.SpeedLimit)
	}
	rc := http.NewResponseController(w)

	for {
		block, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				h.logger.Debug("client disconnected mid-stream")
			} else {
				h.logger.Debug("transfer interrupted", "error", err)
			}
			return
		}

		n, werr := out.Write(block)
		h.BytesOut.Add(int64(n))
		h.BytesTotal.Add(int64(n))
		if werr != nil {
			h.logger.Debug("response write failed", "error", werr)
			return
		}
		_ = rc.Flush()
	}
}

// requesterIP determina o IP do consumidor, honrando X-Forwarded-For
// quando trust_forward_headers está ligado.
func (h *Handler) requesterIP(r *http.Request) string {
	if h.cfg.HTTP.TrustForwardHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseRange interpreta o header Range no contrato histórico do gateway:
// um único range "bytes=a-b" com o segundo limite exclusivo; a ausência
// de cada limite cai para 0 e o tamanho do arquivo. Retorna ok=false só
// para ranges não satisfazíveis.
func parseRange(header string, size int64) (offset, limit int64, ok bool) {
	offset, limit = 0, size

	const prefix = "bytes="
	if header == "" || len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return offset, limit, offset < limit
	}
	spec := header[len(prefix):]

	dash := -1
	for i := 0; i < len(spec); i++ {
		if spec[i] == '-' {
			dash = i
			break
		}
	}
	if dash < 0 {
		return offset, limit, offset < limit
	}

	if start := spec[:dash]; start != "" {
		v, err := strconv.ParseInt(start, 10, 64)
		if err != nil || v < 0 {
			return 0, size, size > 0
		}
		offset = v
	}
	if end := spec[dash+1:]; end != "" {
		v, err := strconv.ParseInt(end, 10, 64)
		if err != nil || v < 0 {
			return offset, size, offset < size
		}
		limit = v
	}
	if limit > size {
		limit = size
	}
	return offset, limit, offset >= 0 && offset < limit
}

// StartStatsReporter loga a cada 15 segundos a taxa de saída e o número
// de streams ativos. Bloqueia até o context ser cancelado.
func (h *Handler) StartStatsReporter(ctx context.Context) {
	const interval = 15 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Swap-and-reset: lê o acumulado e zera
			bytesOut := h.BytesOut.Swap(0)
			streams := h.ActiveStreams.Load()
			if bytesOut == 0 && streams == 0 {
				continue
			}
			rate := float64(bytesOut) / interval.Seconds() / (1024 * 1024)
			h.logger.Info("transfer stats",
				"out_mbps", fmt.Sprintf("%.2f", rate),
				"active_streams", streams,
				"served_total", h.Served.Load())
		}
	}
}
