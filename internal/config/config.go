package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"fleetbot/internal/models"
)

const (
	DefaultServersPerPage  = 6
	DefaultMachinesPerPage = 8
	DefaultConnectTimeout  = 30
	DefaultMaxConcurrent   = 8
	DefaultInlineLimit     = 4000
	DefaultUpdateScript    = "/usr/local/bin/update-machine.sh"
	DefaultNATSSubject     = "fleet.executions"

	// AuditDisabled turns the audit log off when used as audit_log.
	AuditDisabled = "-"
)

// ServerBlock is one raw backend entry as written by the operator.
// Validation happens in the registry, not here.
type ServerBlock struct {
	ID            string `toml:"id"`
	Name          string `toml:"name"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	KeyPath       string `toml:"key_path"`
	Machines      int    `toml:"machines"`
	Location      string `toml:"location"`
	AddressBase   string `toml:"address_base"`
	AddressOffset *int   `toml:"address_offset"`

	// Source names where the block came from, for diagnostics.
	Source string `toml:"-"`
}

// Config is the whole process configuration.
type Config struct {
	BotToken        string        `toml:"bot_token"`
	AllowedUsers    []int64       `toml:"allowed_users"`
	ServersPerPage  int           `toml:"servers_per_page"`
	MachinesPerPage int           `toml:"machines_per_page"`
	UpdateScript    string        `toml:"update_script"`
	ConnectTimeout  int           `toml:"connect_timeout_seconds"`
	KnownHosts      string        `toml:"known_hosts"`
	MaxConcurrent   int           `toml:"max_concurrent"`
	InlineLimit     int           `toml:"inline_limit"`
	ArtifactDir     string        `toml:"artifact_dir"`
	AdminAddr       string        `toml:"admin_addr"`
	AdminTokenHash  string        `toml:"admin_token_hash"`
	NATSURL         string        `toml:"nats_url"`
	NATSSubject     string        `toml:"nats_subject"`
	AuditLog        string        `toml:"audit_log"`
	Servers         []ServerBlock `toml:"servers"`
}

// ConnectTimeoutDuration converts the configured seconds.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// LookupFunc matches os.LookupEnv; tests substitute a map.
type LookupFunc func(key string) (string, bool)

// DefaultPath is os.UserConfigDir()/fleetbot/config.toml.
// Linux: ~/.config/fleetbot/config.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fleetbot", "config.toml"), nil
}

// DefaultAuditPath is the access log next to the config file.
func DefaultAuditPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fleetbot", "access.log"), nil
}

// Load reads the TOML file at path (missing file is fine when path is the default),
// applies environment overrides and defaults, and checks the bot token when requireToken is set.
func Load(path string, lookup LookupFunc, requireToken bool) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		path = p
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", models.ErrConfig, path, err)
		}
		for i := range cfg.Servers {
			cfg.Servers[i].Source = fmt.Sprintf("%s servers[%d]", filepath.Base(path), i)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrConfig, path, err)
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if requireToken && strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("%w: bot token is not set (bot_token or FLEET_BOT_TOKEN)", models.ErrConfig)
	}
	return cfg, nil
}

// Parse decodes TOML into cfg.
func Parse(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup("FLEET_BOT_TOKEN"); ok && strings.TrimSpace(v) != "" {
		cfg.BotToken = strings.TrimSpace(v)
	}
	if v, ok := lookup("FLEET_UPDATE_SCRIPT"); ok && strings.TrimSpace(v) != "" {
		cfg.UpdateScript = strings.TrimSpace(v)
	}
	if v, ok := lookup("FLEET_ALLOWED_USERS"); ok {
		ids, err := ParseUserList(v)
		if err != nil {
			return fmt.Errorf("%w: FLEET_ALLOWED_USERS: %v", models.ErrConfig, err)
		}
		cfg.AllowedUsers = ids
	}
	cfg.Servers = append(cfg.Servers, EnvServers(lookup)...)
	return nil
}

// ParseUserList parses "42, 43" into ids. Empty input yields an empty list.
func ParseUserList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnvServers enumerates SERVER_1_*, SERVER_2_*, ... and stops at the first
// index without a HOST. Gaps are not supported.
// Numeric fields that fail to parse are left zero so the registry drops the block.
func EnvServers(lookup LookupFunc) []ServerBlock {
	var out []ServerBlock
	for n := 1; ; n++ {
		prefix := fmt.Sprintf("SERVER_%d_", n)
		get := func(key string) string {
			v, _ := lookup(prefix + key)
			return strings.TrimSpace(v)
		}
		host := get("HOST")
		if host == "" {
			return out
		}
		b := ServerBlock{
			Name:        get("NAME"),
			Host:        host,
			Username:    get("USERNAME"),
			Password:    get("PASSWORD"),
			KeyPath:     get("KEY_PATH"),
			Location:    get("LOCATION"),
			AddressBase: get("ADDRESS_BASE"),
			Source:      "env " + prefix + "*",
		}
		b.Port, _ = strconv.Atoi(get("PORT"))
		b.Machines, _ = strconv.Atoi(get("MACHINES"))
		if raw := get("ADDRESS_OFFSET"); raw != "" {
			if off, err := strconv.Atoi(raw); err == nil {
				b.AddressOffset = &off
			}
		}
		out = append(out, b)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ServersPerPage <= 0 {
		cfg.ServersPerPage = DefaultServersPerPage
	}
	if cfg.MachinesPerPage <= 0 {
		cfg.MachinesPerPage = DefaultMachinesPerPage
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = DefaultInlineLimit
	}
	if strings.TrimSpace(cfg.UpdateScript) == "" {
		cfg.UpdateScript = DefaultUpdateScript
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = DefaultNATSSubject
	}
	if cfg.AuditLog == "" {
		if p, err := DefaultAuditPath(); err == nil {
			cfg.AuditLog = p
		} else {
			cfg.AuditLog = AuditDisabled
		}
	}
}
