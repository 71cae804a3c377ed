// Package config reads and writes ~/.chatsync/config.toml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the global configuration file. Each named session may override
// the connection profile.
type Config struct {
	DefaultSession string             `toml:"default_session"`
	LogLevel       string             `toml:"log_level,omitempty"`
	Sessions       map[string]Profile `toml:"sessions,omitempty"`
}

// Profile describes how one session reaches its chat server.
type Profile struct {
	APIURL             string   `toml:"api_url,omitempty"`
	WSURL              string   `toml:"ws_url,omitempty"`
	SendVia            string   `toml:"send_via,omitempty"`
	ReconnectBaseDelay Duration `toml:"reconnect_base_delay,omitempty"`
	ReconnectMaxDelay  Duration `toml:"reconnect_max_delay,omitempty"`
	HeartbeatInterval  Duration `toml:"heartbeat_interval,omitempty"`
	TypingTTL          Duration `toml:"typing_ttl,omitempty"`
	RequestTimeout     Duration `toml:"request_timeout,omitempty"`
	UserCacheTTL       Duration `toml:"user_cache_ttl,omitempty"`
	HistoryLimit       int      `toml:"history_limit,omitempty"`
}

// Defaults returns the profile used when nothing is configured.
func Defaults() Profile {
	return Profile{
		APIURL:             "http://localhost:8000",
		WSURL:              "ws://localhost:8000/ws",
		SendVia:            "socket",
		ReconnectBaseDelay: Duration{3 * time.Second},
		ReconnectMaxDelay:  Duration{30 * time.Second},
		HeartbeatInterval:  Duration{25 * time.Second},
		TypingTTL:          Duration{3 * time.Second},
		RequestTimeout:     Duration{10 * time.Second},
		UserCacheTTL:       Duration{60 * time.Second},
		HistoryLimit:       50,
	}
}

// Profile returns the defaults overlaid with the named session's settings.
func (c *Config) Profile(session string) Profile {
	p := Defaults()
	if c == nil {
		return p
	}
	o, ok := c.Sessions[session]
	if !ok {
		return p
	}
	if o.APIURL != "" {
		p.APIURL = o.APIURL
	}
	if o.WSURL != "" {
		p.WSURL = o.WSURL
	}
	if o.SendVia != "" {
		p.SendVia = o.SendVia
	}
	overlay(&p.ReconnectBaseDelay, o.ReconnectBaseDelay)
	overlay(&p.ReconnectMaxDelay, o.ReconnectMaxDelay)
	overlay(&p.HeartbeatInterval, o.HeartbeatInterval)
	overlay(&p.TypingTTL, o.TypingTTL)
	overlay(&p.RequestTimeout, o.RequestTimeout)
	overlay(&p.UserCacheTTL, o.UserCacheTTL)
	if o.HistoryLimit > 0 {
		p.HistoryLimit = o.HistoryLimit
	}
	return p
}

func overlay(dst *Duration, src Duration) {
	if src.Duration > 0 {
		*dst = src
	}
}

// Validate reports the first invalid setting of the profile.
func (p Profile) Validate() error {
	for _, u := range []struct{ name, raw, scheme1, scheme2 string }{
		{"api_url", p.APIURL, "http", "https"},
		{"ws_url", p.WSURL, "ws", "wss"},
	} {
		parsed, err := url.Parse(u.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
		if parsed.Scheme != u.scheme1 && parsed.Scheme != u.scheme2 || parsed.Host == "" {
			return fmt.Errorf("%s %q: want a %s:// or %s:// url", u.name, u.raw, u.scheme1, u.scheme2)
		}
	}
	if p.SendVia != "socket" && p.SendVia != "http" {
		return fmt.Errorf("send_via %q: want socket or http", p.SendVia)
	}
	if p.ReconnectMaxDelay.Duration < p.ReconnectBaseDelay.Duration {
		return errors.New("reconnect_max_delay is shorter than reconnect_base_delay")
	}
	return nil
}

// Load reads config from the given path. Returns nil config and an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Duration is a time.Duration written as "3s" or "1m30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
