// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging configura o slog.Logger global do gateway.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger cria um slog.Logger com o nível e formato especificados.
// Formatos suportados: "json" (default) e "text".
// Com debug=true o nível mínimo é DEBUG; caso contrário INFO.
// Se filePath não for vazio, grava logs em stdout + file (MultiWriter).
// Retorna o logger e um io.Closer que deve ser chamado no shutdown para
// fechar o arquivo. Se filePath for vazio, o Closer retornado é um no-op.
func NewLogger(debug bool, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Se não conseguir abrir o arquivo, loga stderr e continua só com stdout
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}
