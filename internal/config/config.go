// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega a configuração do tg-filegate a partir de um
// arquivo YAML opcional com overrides por variáveis de ambiente.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxConnectionLimit é o teto absoluto de conexões por DC. Acima disso o
// Telegram entra em loop de disconnect/reconnect.
const maxConnectionLimit = 25

// Config representa a configuração completa do gateway.
type Config struct {
	Telegram TelegramInfo `yaml:"telegram"`
	HTTP     HTTPInfo     `yaml:"http"`
	Limits   LimitsInfo   `yaml:"limits"`
	Messages MessagesInfo `yaml:"messages"`
	Logging  LoggingInfo  `yaml:"logging"`
	WebUI    WebUIConfig  `yaml:"web_ui"`

	// Warnings acumula avisos não-fatais gerados na validação (ex: clamp
	// do connection_limit). Preenchido em validate(); não vem do YAML.
	Warnings []string `yaml:"-"`
}

// TelegramInfo contém as credenciais e a sessão do client Telegram.
type TelegramInfo struct {
	APIID       int    `yaml:"api_id"`       // obrigatório (env TG_API_ID)
	APIHash     string `yaml:"api_hash"`     // obrigatório (env TG_API_HASH)
	SessionName string `yaml:"session_name"` // default: "tgfilestream"
}

// HTTPInfo contém o listener público e a URL usada para gerar links.
type HTTPInfo struct {
	Host                string `yaml:"host"`       // default: "localhost"
	Port                int    `yaml:"port"`       // default: 8080
	PublicURL           string `yaml:"public_url"` // default: "http://{host}:{port}"
	TrustForwardHeaders bool   `yaml:"trust_forward_headers"`
	TLSCert             string `yaml:"tls_cert"` // opcional; habilita HTTPS junto com tls_key
	TLSKey              string `yaml:"tls_key"`
}

// LimitsInfo contém os limites de admissão e de banda.
type LimitsInfo struct {
	RequestLimit    int   `yaml:"request_limit"`    // default: 5 (reservado; ainda não aplicado)
	ConnectionLimit int   `yaml:"connection_limit"` // default: 20, máximo 25
	SpeedLimit      int64 `yaml:"speed_limit"`      // bytes/s por stream; 0 = sem limite
}

// MessagesInfo contém os textos de resposta do bot.
type MessagesInfo struct {
	Start     string `yaml:"start"`      // resposta em chat privado sem arquivo
	GroupChat string `yaml:"group_chat"` // resposta em chats não-privados
}

// LoggingInfo configura o logger global.
type LoggingInfo struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"` // "json" (default) ou "text"
	File   string `yaml:"file"`   // se não vazio, grava também em arquivo
}

// WebUIConfig configura o listener HTTP de observabilidade (desabilitado
// por default; deny-by-default via allow_origins).
type WebUIConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Listen       string   `yaml:"listen"`        // default: "127.0.0.1:9849"
	AllowOrigins []string `yaml:"allow_origins"` // IP ou CIDR

	// Persistência do histórico de downloads
	HistoryFile        string `yaml:"history_file"`        // default: "downloads.jsonl"
	HistoryMaxLines    int    `yaml:"history_max_lines"`   // default: 10000
	HistoryCompression string `yaml:"history_compression"` // gzip|zst (default: gzip)

	// Relatório agregado periódico (cron expression)
	ReportSchedule string `yaml:"report_schedule"` // default: "0 * * * *"

	// Archive opcional dos históricos rotacionados
	Archive ArchiveInfo `yaml:"archive"`

	// Parsed é preenchido em validate(); não vem do YAML.
	ParsedCIDRs []*net.IPNet `yaml:"-"`
}

// ArchiveInfo configura o envio de históricos rotacionados para S3.
type ArchiveInfo struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"` // se vazio, usa a credential chain default
	SecretKey string `yaml:"secret_key"`
}

// Load carrega a configuração: defaults, YAML (se path não vazio),
// overrides de ambiente e validação, nesta ordem.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Telegram: TelegramInfo{SessionName: "tgfilestream"},
		HTTP:     HTTPInfo{Host: "localhost", Port: 8080},
		Limits:   LimitsInfo{RequestLimit: 5, ConnectionLimit: 20},
		Messages: MessagesInfo{
			Start:     "Hi, send me a file to get a direct download link to it.",
			GroupChat: "Sorry, I only handle files in private chats.",
		},
		Logging: LoggingInfo{Format: "json"},
		WebUI: WebUIConfig{
			Listen:             "127.0.0.1:9849",
			HistoryFile:        "downloads.jsonl",
			HistoryMaxLines:    10000,
			HistoryCompression: "gzip",
			ReportSchedule:     "0 * * * *",
		},
	}
}

// applyEnv aplica as variáveis de ambiente por cima do YAML. As variáveis
// seguem o contrato histórico do gateway (TG_API_ID, PORT, HOST, ...).
func (c *Config) applyEnv() error {
	if v := os.Getenv("TG_API_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TG_API_ID must be an integer, got %q", v)
		}
		c.Telegram.APIID = id
	}
	if v := os.Getenv("TG_API_HASH"); v != "" {
		c.Telegram.APIHash = v
	}
	if v := os.Getenv("TG_SESSION_NAME"); v != "" {
		c.Telegram.SessionName = v
	}
	if v := os.Getenv("HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer between 1 and 65535, got %q", v)
		}
		c.HTTP.Port = port
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.HTTP.PublicURL = v
	}
	if v, ok := os.LookupEnv("TRUST_FORWARD_HEADERS"); ok {
		c.HTTP.TrustForwardHeaders = envBool(v)
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		c.Logging.Debug = envBool(v)
	}
	if v := os.Getenv("LOG_CONFIG"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("REQUEST_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REQUEST_LIMIT must be an integer, got %q", v)
		}
		c.Limits.RequestLimit = n
	}
	if v := os.Getenv("CONNECTION_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONNECTION_LIMIT must be an integer, got %q", v)
		}
		c.Limits.ConnectionLimit = n
	}
	if v := os.Getenv("TG_START_MESG"); v != "" {
		c.Messages.Start = v
	}
	if v := os.Getenv("TG_G_C_MESG"); v != "" {
		c.Messages.GroupChat = v
	}
	return nil
}

// envBool interpreta flags de ambiente: vazio, "0" e "false" são falsos,
// qualquer outro valor é verdadeiro.
func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

func (c *Config) validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		return fmt.Errorf("telegram api_id and api_hash are required (TG_API_ID / TG_API_HASH)")
	}
	if c.Limits.ConnectionLimit < 1 {
		return fmt.Errorf("connection_limit must be at least 1, got %d", c.Limits.ConnectionLimit)
	}
	if c.Limits.ConnectionLimit > maxConnectionLimit {
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"connection_limit %d is above the safe maximum, clamping to %d",
			c.Limits.ConnectionLimit, maxConnectionLimit))
		c.Limits.ConnectionLimit = maxConnectionLimit
	}
	if c.Limits.RequestLimit < 1 {
		return fmt.Errorf("request_limit must be at least 1, got %d", c.Limits.RequestLimit)
	}
	if (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}

	if c.HTTP.PublicURL == "" {
		c.HTTP.PublicURL = fmt.Sprintf("http://%s:%d", c.HTTP.Host, c.HTTP.Port)
	}
	u, err := url.Parse(c.HTTP.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public_url %q is not a valid URL", c.HTTP.PublicURL)
	}
	c.HTTP.PublicURL = strings.TrimRight(c.HTTP.PublicURL, "/")

	if c.WebUI.Enabled {
		cidrs, err := parseCIDRs(c.WebUI.AllowOrigins)
		if err != nil {
			return err
		}
		c.WebUI.ParsedCIDRs = cidrs
		switch c.WebUI.HistoryCompression {
		case "gzip", "zst":
		default:
			return fmt.Errorf("history_compression must be gzip or zst, got %q", c.WebUI.HistoryCompression)
		}
	}
	return nil
}

// parseCIDRs converte a lista allow_origins em redes. IPs sem máscara
// recebem /32 (ou /128 para IPv6).
func parseCIDRs(origins []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, o := range origins {
		s := strings.TrimSpace(o)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("allow_origins entry %q is not a valid IP or CIDR", o)
			}
			if ip.To4() != nil {
				s += "/32"
			} else {
				s += "/128"
			}
		}
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("allow_origins entry %q is not a valid IP or CIDR", o)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

// ListenAddr retorna o endereço host:port do listener público.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// PublicLink monta a URL pública de download de um arquivo.
func (c *Config) PublicLink(id uint64, name string) string {
	return c.HTTP.PublicURL + "/" + strconv.FormatUint(id, 10) + "/" + url.PathEscape(name)
}
