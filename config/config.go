// Package config loads the poolnetd configuration file.
//
// The file lives at $XDG_CONFIG_HOME/poolnet/config.yaml (defaults to
// ~/.config/poolnet/config.yaml) unless a path is given explicitly. Pools are
// listed in failover priority order.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"poolnet"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRetries     = 5
	DefaultRetryPause  = 5 * time.Second
	DefaultAPIListen   = "127.0.0.1:18080"
	DefaultTickEvery   = time.Second
	defaultPoolPort    = 3333
	defaultPoolMode    = poolnet.ModePool
	defaultPoolPass    = "x"
	maxConfiguredPools = 64
)

// PoolConfig is one entry of the pools list as written in the file.
type PoolConfig struct {
	URL            string            `yaml:"url"`
	User           string            `yaml:"user,omitempty"`
	Pass           string            `yaml:"pass,omitempty"`
	RigID          string            `yaml:"rig-id,omitempty"`
	Algo           poolnet.Algorithm `yaml:"algo,omitempty"`
	TLS            bool              `yaml:"tls,omitempty"`
	TLSFingerprint string            `yaml:"tls-fingerprint,omitempty"`
	Keepalive      bool              `yaml:"keepalive,omitempty"`
	ZMQPort        int               `yaml:"zmq-port,omitempty"`
	Mode           string            `yaml:"mode,omitempty"`
	Enabled        *bool             `yaml:"enabled,omitempty"`
}

// APIConfig configures the HTTP introspection surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Config is the parsed configuration file.
type Config struct {
	LogLevel   string        `yaml:"log-level,omitempty"`
	LogFormat  string        `yaml:"log-format,omitempty"`
	UserAgent  string        `yaml:"user-agent,omitempty"`
	Algorithms []string      `yaml:"algorithms"`
	Pools      []PoolConfig  `yaml:"pools"`
	Retries    int           `yaml:"retries,omitempty"`
	RetryPause time.Duration `yaml:"retry-pause,omitempty"`
	Tick       time.Duration `yaml:"tick,omitempty"`
	Benchmark  bool          `yaml:"benchmark,omitempty"`
	Journal    string        `yaml:"journal,omitempty"`
	API        APIConfig     `yaml:"api"`

	pools poolnet.Pools
	algos poolnet.Algorithms
}

// Path returns the default config file location. It respects
// XDG_CONFIG_HOME, falling back to ~/.config/poolnet/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "poolnet", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "poolnet", "config.yaml")
}

// Load reads and validates the config file at path. An empty path means
// Path().
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a config built in code and fills in defaults, as Parse
// does for files.
func (c *Config) Validate() error {
	return c.normalize()
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// PoolList returns the resolved pools in priority order.
func (c *Config) PoolList() poolnet.Pools {
	out := make(poolnet.Pools, len(c.pools))
	copy(out, c.pools)
	return out
}

// EnabledAlgorithms returns the algorithms the miner may work on, in
// preference order.
func (c *Config) EnabledAlgorithms() poolnet.Algorithms {
	out := make(poolnet.Algorithms, len(c.algos))
	copy(out, c.algos)
	return out
}

func (c *Config) normalize() error {
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryPause <= 0 {
		c.RetryPause = DefaultRetryPause
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTickEvery
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	if len(c.Pools) == 0 {
		return &ValidationError{Field: "pools", Message: "at least one pool is required"}
	}
	if len(c.Pools) > maxConfiguredPools {
		return &ValidationError{Field: "pools", Message: fmt.Sprintf("at most %d pools are supported", maxConfiguredPools)}
	}

	c.algos = c.algos[:0]
	for i, name := range c.Algorithms {
		algo := poolnet.ParseAlgorithm(name)
		if !algo.IsValid() {
			return &ValidationError{Field: fmt.Sprintf("algorithms[%d]", i), Message: fmt.Sprintf("unknown algorithm %q", name)}
		}
		if c.algos.Contains(algo) {
			continue
		}
		c.algos = append(c.algos, algo)
	}
	if len(c.algos) == 0 {
		return &ValidationError{Field: "algorithms", Message: "at least one algorithm must be enabled"}
	}

	c.pools = make(poolnet.Pools, 0, len(c.Pools))
	for i, pc := range c.Pools {
		p, err := pc.resolve()
		if err != nil {
			return &ValidationError{Field: fmt.Sprintf("pools[%d]", i), Message: err.Error()}
		}
		c.pools = append(c.pools, p)
	}
	return nil
}

func (pc PoolConfig) resolve() (poolnet.Pool, error) {
	host, port, tlsScheme, err := parsePoolURL(pc.URL)
	if err != nil {
		return poolnet.Pool{}, err
	}
	mode := strings.ToLower(strings.TrimSpace(pc.Mode))
	switch mode {
	case "":
		mode = defaultPoolMode
	case poolnet.ModePool, poolnet.ModeDaemon, poolnet.ModeSelfSelect, poolnet.ModeBenchmark:
	default:
		return poolnet.Pool{}, fmt.Errorf("unknown mode %q", pc.Mode)
	}
	if pc.ZMQPort < 0 || pc.ZMQPort > 65535 {
		return poolnet.Pool{}, fmt.Errorf("zmq-port %d out of range", pc.ZMQPort)
	}
	pass := pc.Pass
	if pass == "" {
		pass = defaultPoolPass
	}
	enabled := true
	if pc.Enabled != nil {
		enabled = *pc.Enabled
	}
	return poolnet.Pool{
		Host:           host,
		Port:           port,
		ZMQPort:        pc.ZMQPort,
		TLS:            pc.TLS || tlsScheme,
		TLSFingerprint: strings.ToLower(strings.TrimSpace(pc.TLSFingerprint)),
		Mode:           mode,
		Algorithm:      pc.Algo,
		User:           pc.User,
		Password:       pass,
		RigID:          pc.RigID,
		Keepalive:      pc.Keepalive,
		Enabled:        enabled,
	}, nil
}

// parsePoolURL accepts host:port with an optional stratum+tcp:// or
// stratum+ssl:// scheme. A missing port defaults to 3333.
func parsePoolURL(raw string) (host string, port int, tlsScheme bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, errors.New("url is required")
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		switch strings.ToLower(raw[:i]) {
		case "stratum+tcp", "tcp":
		case "stratum+ssl", "stratum+tls", "ssl", "tls":
			tlsScheme = true
		default:
			return "", 0, false, fmt.Errorf("unsupported scheme %q", raw[:i])
		}
		raw = raw[i+3:]
	}
	raw = strings.TrimSuffix(raw, "/")

	withPort, err := hasPort(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if !withPort {
		h := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		if h == "" {
			return "", 0, false, fmt.Errorf("invalid url %q: empty host", raw)
		}
		return h, defaultPoolPort, tlsScheme, nil
	}

	h, p, splitErr := net.SplitHostPort(raw)
	if splitErr != nil {
		return "", 0, false, fmt.Errorf("invalid url %q: %w", raw, splitErr)
	}
	if h == "" {
		return "", 0, false, fmt.Errorf("invalid url %q: empty host", raw)
	}
	n, convErr := strconv.Atoi(p)
	if convErr != nil || n <= 0 || n > 65535 {
		return "", 0, false, fmt.Errorf("invalid port %q", p)
	}
	return h, n, tlsScheme, nil
}

// hasPort reports whether hostport carries a port. IPv6 hosts must be
// bracketed.
func hasPort(hostport string) (bool, error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return false, errors.New("missing ']' in host")
		}
		rest := hostport[end+1:]
		if rest == "" {
			return false, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return false, fmt.Errorf("unexpected %q after host", rest)
		}
		return true, nil
	}
	switch strings.Count(hostport, ":") {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.New("ipv6 host must be bracketed")
	}
}
