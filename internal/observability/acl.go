// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"log/slog"
	"net"
	"net/http"
)

// ACL restringe o listener administrativo por origem. Sem allow_origins
// configurado, só loopback entra: a API expõe histórico com IPs de
// consumidores e não pode vazar para a rede.
type ACL struct {
	nets   []*net.IPNet
	logger *slog.Logger
}

// NewACL cria a ACL com as redes permitidas (pode ser vazia).
func NewACL(nets []*net.IPNet, logger *slog.Logger) *ACL {
	return &ACL{nets: nets, logger: logger.With("component", "acl")}
}

// Middleware rejeita com 403 requests cuja origem não passa na ACL.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			a.logger.Warn("admin request denied", "remote", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed decide se um remote addr ("ip:port" ou só "ip") pode acessar.
func (a *ACL) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	if len(a.nets) == 0 {
		return ip.IsLoopback()
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
