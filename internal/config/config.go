// Package config parses the Config.xml file described in spec.md §6
// (element tree, not environment variables — the wire format is part of
// the contract this service was distilled from). Validation and the
// daily-reload scheduling math are ported from original_source's
// clsConfig.py.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"
)

// Defaults per spec.md §6.
const (
	DefaultPort          = 3180
	DefaultWebServerPort = 8080
	DefaultReloadTime    = "02:30:00"
	DefaultHeartBeat     = 300
	DefaultThreads       = 5
)

// FudgeFactor is the fixed tolerance added to HeartBeat before a connection
// is considered stale (spec.md §6).
const FudgeFactor = 30 * time.Second

// xmlConfig mirrors Config.xml's root element and recognised children.
// Unknown elements are ignored by encoding/xml's default Unmarshal.
type xmlConfig struct {
	XMLName           xml.Name `xml:"licence_server_config"`
	DataFolder        string   `xml:"datafolder"`
	HeartBeat         *int     `xml:"heartbeat"`
	LicenceFolder     string   `xml:"licencefolder"`
	MaximumLogFileSz  *int     `xml:"maximumlogfilesize"`
	NumberOfLogs      *int     `xml:"numberoflogs"`
	NumberOfThreads   *int     `xml:"numberofthreads"`
	Port              *int     `xml:"port"`
	ReloadTime        string   `xml:"reloadtime"`
	WebServerPort     *int     `xml:"webserverport"`
	EnableWebServer   *bool    `xml:"enablewebserver"`
	EncryptedPassword string   `xml:"epassword"`
	Password          string   `xml:"password"`
	Username          string   `xml:"username"`
}

// Config is the validated, typed configuration used by the rest of the
// service.
type Config struct {
	DataFolder        string
	LicenceFolder     string
	HeartBeat         time.Duration
	MaximumLogFileSz  int
	NumberOfLogs      int
	NumberOfThreads   int
	Port              int
	ReloadTime        string // HH:MM:SS, local time-of-day
	WebServerPort     int
	EnableWebServer   bool
	EncryptedPassword string
	Password          string
	Username          string
}

// Load reads and validates Config.xml at path. Missing optional elements
// fall back to the documented defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied config location.
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var x xmlConfig
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{
		DataFolder:        x.DataFolder,
		LicenceFolder:     x.LicenceFolder,
		HeartBeat:         time.Duration(intOrDefault(x.HeartBeat, DefaultHeartBeat)) * time.Second,
		MaximumLogFileSz:  intOrDefault(x.MaximumLogFileSz, 10*1024*1024),
		NumberOfLogs:      intOrDefault(x.NumberOfLogs, 5),
		NumberOfThreads:   intOrDefault(x.NumberOfThreads, DefaultThreads),
		Port:              intOrDefault(x.Port, DefaultPort),
		ReloadTime:        stringOrDefault(x.ReloadTime, DefaultReloadTime),
		WebServerPort:     intOrDefault(x.WebServerPort, DefaultWebServerPort),
		EnableWebServer:   boolOrDefault(x.EnableWebServer, true),
		EncryptedPassword: x.EncryptedPassword,
		Password:          x.Password,
		Username:          x.Username,
	}

	if cfg.DataFolder == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.DataFolder = wd
		}
	}
	if cfg.LicenceFolder == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.LicenceFolder = wd
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.HeartBeat <= 0 {
		return fmt.Errorf("heartbeat must be > 0, got %s", cfg.HeartBeat)
	}
	if cfg.NumberOfThreads <= 0 {
		return fmt.Errorf("numberofthreads must be > 0, got %d", cfg.NumberOfThreads)
	}
	if cfg.WebServerPort < 1024 || cfg.WebServerPort > 65535 {
		return fmt.Errorf("webserverport must be in [1024,65535], got %d", cfg.WebServerPort)
	}
	if _, err := time.Parse("15:04:05", cfg.ReloadTime); err != nil {
		return fmt.Errorf("reloadtime %q is not HH:MM:SS: %w", cfg.ReloadTime, err)
	}
	return nil
}

// StaleThreshold returns how long a connection may go without an update
// before it is considered stale: HeartBeat plus the fixed FudgeFactor.
func (c *Config) StaleThreshold() time.Duration {
	return c.HeartBeat + FudgeFactor
}

// WebServerScheme reports "https" iff both an encrypted password and
// credentials are configured, else "http". A direct, minimal port of the
// source's IsSecureWebServer/HasEncryptedPassword helpers — full TLS
// termination is out of this spec's scope.
func (c *Config) WebServerScheme() string {
	if c.HasEncryptedPassword() && c.Username != "" {
		return "https"
	}
	return "http"
}

// HasEncryptedPassword reports whether an encrypted web-server password is
// configured.
func (c *Config) HasEncryptedPassword() bool {
	return c.EncryptedPassword != ""
}

// GetReloadTimeFromNow computes the duration from now until the next
// occurrence of ReloadTime (local wall-clock time-of-day). If that moment
// has already passed today, it schedules for tomorrow — ported from
// clsConfig.py's GetReloadTimeFromNow.
func (c *Config) GetReloadTimeFromNow(now time.Time) (time.Duration, error) {
	t, err := time.ParseInLocation("15:04:05", c.ReloadTime, now.Location())
	if err != nil {
		return 0, fmt.Errorf("parse reloadtime: %w", err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now), nil
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
