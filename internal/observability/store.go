// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package observability expõe o listener administrativo local do gateway:
// health, métricas, histórico de downloads e o sumário periódico.
package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// ringCapacity é o número de downloads retidos em memória para a API.
const ringCapacity = 100

// Store mantém o histórico de downloads: um ring em memória para a API
// e um arquivo JSONL (um evento por linha) para persistência. Quando o
// arquivo passa de maxLines ele é rotacionado, comprimido e, se
// configurado, enviado ao archive.
type Store struct {
	ring   *EventRing
	logger *slog.Logger

	mu          sync.Mutex
	path        string
	file        *os.File
	lineCount   int
	maxLines    int
	compression string // gzip|zst
	archiver    *Archiver
}

// NewStore abre (ou cria) o arquivo de histórico e carrega os eventos
// existentes no ring. archiver pode ser nil.
func NewStore(path string, maxLines int, compression string, archiver *Archiver,
	logger *slog.Logger) (*Store, error) {
	s := &Store{
		ring:        NewEventRing(ringCapacity),
		logger:      logger.With("component", "history"),
		path:        path,
		maxLines:    maxLines,
		compression: compression,
		archiver:    archiver,
	}

	if err := s.loadExisting(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	s.file = f
	return s, nil
}

// RecordDownload registra um download no ring e no arquivo JSONL.
// Erros de persistência são logados, nunca propagados: o histórico não
// pode derrubar um download em andamento.
func (s *Store) RecordDownload(ev DownloadEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.ring.Push(ev)

	line, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("failed to encode download event", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		s.logger.Warn("failed to append download event", "error", err)
		return
	}
	s.lineCount++

	if s.maxLines > 0 && s.lineCount >= s.maxLines {
		s.rotateLocked()
	}
}

// Recent retorna os últimos N downloads em ordem cronológica.
func (s *Store) Recent(limit int) []DownloadEvent {
	return s.ring.Recent(limit)
}

// Close fecha o arquivo de histórico.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// loadExisting lê o JSONL existente para repopular o ring após restart.
// Linhas corrompidas são ignoradas.
func (s *Store) loadExisting() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev DownloadEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		s.ring.Push(ev)
		s.lineCount++
	}
	return scanner.Err()
}

// rotateLocked rotaciona o arquivo corrente: renomeia com timestamp,
// reabre um arquivo novo e dispara a compressão/archive em background.
// Chamado com s.mu held.
func (s *Store) rotateLocked() {
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))

	if err := s.file.Close(); err != nil {
		s.logger.Warn("failed to close history file for rotation", "error", err)
	}
	if err := os.Rename(s.path, rotated); err != nil {
		s.logger.Warn("failed to rotate history file", "error", err)
		// Tenta reabrir o arquivo original em append para não perder eventos.
		rotated = ""
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Error("failed to reopen history file", "error", err)
		s.file = nil
		return
	}
	s.file = f
	s.lineCount = 0

	if rotated != "" {
		s.logger.Info("history rotated", "file", rotated)
		go s.finishRotation(rotated)
	}
}

// finishRotation comprime o arquivo rotacionado e o envia ao archive,
// fora do caminho quente de escrita.
func (s *Store) finishRotation(rotated string) {
	compressed, err := compressFile(rotated, s.compression)
	if err != nil {
		s.logger.Warn("failed to compress rotated history", "file", rotated, "error", err)
		return
	}
	if err := os.Remove(rotated); err != nil {
		s.logger.Warn("failed to remove rotated history", "file", rotated, "error", err)
	}

	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.archiver.Upload(ctx, compressed); err != nil {
		s.logger.Warn("failed to archive rotated history", "file", compressed, "error", err)
		return
	}
	s.logger.Info("history archived", "file", compressed)
}

// compressFile comprime src com o codec pedido (gzip ou zst) e retorna
// o path do arquivo comprimido.
func compressFile(src, codec string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := src + "." + extFor(codec)
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	var cw io.WriteCloser
	switch codec {
	case "zst":
		cw, err = zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return "", err
		}
	default:
		cw, err = pgzip.NewWriterLevel(out, pgzip.BestSpeed)
		if err != nil {
			return "", err
		}
	}

	if _, err := io.Copy(cw, in); err != nil {
		cw.Close()
		return "", err
	}
	if err := cw.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

func extFor(codec string) string {
	if codec == "zst" {
		return "zst"
	}
	return "gz"
}
