// Package settings holds the persisted, user-editable configuration the core
// reads at run time: per-backend downloader credentials and download rules.
// Stores are read on every use so edits apply without a restart.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/tinoosan/magnetron/internal/data"
)

// DownloaderConfig is the stored configuration for one downloader backend.
type DownloaderConfig struct {
	Name      data.DownloaderName `json:"name" yaml:"name"`
	Enabled   bool                `json:"enabled" yaml:"enabled"`
	Host      string              `json:"host" yaml:"host"`
	Port      int                 `json:"port,omitempty" yaml:"port,omitempty"`
	Username  string              `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string              `json:"password,omitempty" yaml:"password,omitempty"`
	IsDefault bool                `json:"isDefault" yaml:"isDefault"`
	UseHTTPS  bool                `json:"useHttps" yaml:"useHttps"`
}

// Validate checks the fields a client needs. An empty host is allowed: such
// an entry is simply never picked as the active backend.
func (c DownloaderConfig) Validate() error {
	if !c.Name.Valid() {
		return data.Invalid("unknown downloader %q", c.Name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return data.Invalid("%s: port %d out of range", c.Name, c.Port)
	}
	if strings.ContainsAny(strings.TrimSpace(c.Host), " \t\n") {
		return data.Invalid("%s: host must not contain whitespace", c.Name)
	}
	return nil
}

// Configured reports whether the entry names a host to talk to.
func (c DownloaderConfig) Configured() bool { return strings.TrimSpace(c.Host) != "" }

// BaseURL returns scheme://host[:port]. A host that already carries a scheme
// is used as given, with the port appended only when it has none.
func (c DownloaderConfig) BaseURL() string {
	host := strings.TrimRight(strings.TrimSpace(c.Host), "/")
	if !strings.Contains(host, "://") {
		scheme := "http"
		if c.UseHTTPS {
			scheme = "https"
		}
		host = scheme + "://" + host
	}
	if c.Port > 0 {
		rest := host[strings.Index(host, "://")+3:]
		if _, _, err := net.SplitHostPort(rest); err != nil {
			host = host + ":" + strconv.Itoa(c.Port)
		}
	}
	return host
}

// RedactedPassword replaces stored passwords in API responses. Sending it
// back unchanged keeps the stored password.
const RedactedPassword = "********"

// Redacted hides the password for API responses.
func (c DownloaderConfig) Redacted() DownloaderConfig {
	if c.Password != "" {
		c.Password = RedactedPassword
	}
	return c
}

// DownloadRules are user toggles that affect dispatch.
type DownloadRules struct {
	// DownloadMagnetImmediately is nil when never set; only an explicit
	// false disables immediate download.
	DownloadMagnetImmediately *bool `json:"downloadMagnetImmediately,omitempty" yaml:"downloadMagnetImmediately,omitempty"`
}

func (r DownloadRules) Immediate() bool {
	return r.DownloadMagnetImmediately == nil || *r.DownloadMagnetImmediately
}

// Store persists settings. DownloaderConfigs returns entries as stored,
// including invalid ones; callers filter with Usable.
type Store interface {
	DownloaderConfigs(ctx context.Context) ([]DownloaderConfig, error)
	// SaveDownloaderConfig replaces the entry for cfg.Name. When cfg is the
	// default, every other entry loses its default flag in the same write.
	SaveDownloaderConfig(ctx context.Context, cfg DownloaderConfig) error
	DownloadRules(ctx context.Context) (DownloadRules, error)
	SaveDownloadRules(ctx context.Context, r DownloadRules) error
}

// Usable drops entries that fail validation, logging each one.
func Usable(log *slog.Logger, cfgs []DownloaderConfig) []DownloaderConfig {
	out := make([]DownloaderConfig, 0, len(cfgs))
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			if log != nil {
				log.Warn("skipping invalid downloader config", "name", c.Name, "err", err)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// Find returns the entry for name.
func Find(cfgs []DownloaderConfig, name data.DownloaderName) (DownloaderConfig, bool) {
	for _, c := range cfgs {
		if c.Name == name {
			return c, true
		}
	}
	return DownloaderConfig{}, false
}

// upsert applies cfg to cfgs, clearing other default flags when needed.
func upsert(cfgs []DownloaderConfig, cfg DownloaderConfig) []DownloaderConfig {
	out := make([]DownloaderConfig, 0, len(cfgs)+1)
	replaced := false
	for _, c := range cfgs {
		if c.Name == cfg.Name {
			out = append(out, cfg)
			replaced = true
			continue
		}
		if cfg.IsDefault {
			c.IsDefault = false
		}
		out = append(out, c)
	}
	if !replaced {
		out = append(out, cfg)
	}
	return out
}

func persistence(op string, err error) error {
	return data.Persistence(fmt.Sprintf("settings %s", op), err)
}
