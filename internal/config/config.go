// Package config loads goftp site profiles.
//
// Profiles live in a YAML file, by default $XDG_CONFIG_HOME/goftp/sites.yaml:
//
//	log_level: info
//	sites:
//	  web:
//	    host: ftp.example.com
//	    username: deploy
//	    protocol: ftps
//	    default_path: /web
//	    timeout: 20s
//	    ignore: [node_modules, .git, /web/cache]
//
// Environment variables override the profile and command-line flags
// override the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darshan-rambhia/goftp"
)

// Environment variables read by ApplyEnv.
const (
	EnvHost     = "GOFTP_HOST"
	EnvPort     = "GOFTP_PORT"
	EnvUser     = "GOFTP_USER"
	EnvPassword = "GOFTP_PASSWORD"
	EnvProtocol = "GOFTP_PROTOCOL"
)

// File is the on-disk profile file.
type File struct {
	LogLevel string          `yaml:"log_level"`
	Sites    map[string]Site `yaml:"sites"`
}

// Site is one named server profile.
type Site struct {
	Host                  string            `yaml:"host"`
	Port                  int               `yaml:"port"`
	Username              string            `yaml:"username"`
	Password              string            `yaml:"password"`
	Protocol              string            `yaml:"protocol"`
	Secure                bool              `yaml:"secure"`
	ImplicitTLS           bool              `yaml:"implicit_tls"`
	SecureOptions         map[string]string `yaml:"secure_options"`
	Passive               *bool             `yaml:"passive"`
	DefaultPath           string            `yaml:"default_path"`
	Timeout               time.Duration     `yaml:"timeout"`
	KeyPath               string            `yaml:"key_path"`
	KnownHostsFile        string            `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool              `yaml:"insecure_ignore_host_key"`
	Ignore                []string          `yaml:"ignore"`
}

// DefaultPath returns the default profile file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "goftp", "sites.yaml"), nil
}

// Load reads a profile file. A missing file is not an error.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{Sites: map[string]Site{}}, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if f.Sites == nil {
		f.Sites = map[string]Site{}
	}
	return &f, nil
}

// Site returns the named profile.
func (f *File) Site(name string) (Site, error) {
	site, ok := f.Sites[name]
	if !ok {
		return Site{}, fmt.Errorf("unknown site %q", name)
	}
	return site, nil
}

// ConnectionConfig converts the profile.
func (s Site) ConnectionConfig() goftp.ConnectionConfig {
	passive := true
	if s.Passive != nil {
		passive = *s.Passive
	}
	return goftp.ConnectionConfig{
		Host:                  s.Host,
		Port:                  s.Port,
		Username:              s.Username,
		Password:              s.Password,
		Protocol:              goftp.Protocol(s.Protocol),
		Secure:                s.Secure,
		ImplicitTLS:           s.ImplicitTLS,
		SecureOptions:         s.SecureOptions,
		Passive:               passive,
		DefaultRemotePath:     s.DefaultPath,
		Timeout:               s.Timeout,
		KeyPath:               s.KeyPath,
		KnownHostsFile:        s.KnownHostsFile,
		InsecureIgnoreHostKey: s.InsecureIgnoreHostKey,
	}
}

// ApplyEnv overrides cfg with any GOFTP_* variables set in the environment.
func ApplyEnv(cfg *goftp.ConnectionConfig, getenv func(string) string) error {
	if v := getenv(EnvHost); v != "" {
		cfg.Host = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Port = port
	}
	if v := getenv(EnvUser); v != "" {
		cfg.Username = v
	}
	if v := getenv(EnvPassword); v != "" {
		cfg.Password = v
	}
	if v := getenv(EnvProtocol); v != "" {
		cfg.Protocol = goftp.Protocol(v)
	}
	return nil
}
