// Package config loads and validates the agent's and server's configuration:
// a YAML file (--conf) merged with CLI flags, which always win over YAML
// when both are present, in the same three-step Load/applyDefaults/validate
// shape the teacher codebase's internal/config/config.go uses.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/messa/logline/internal/errs"
)

// Defaults named in spec.md §4.
const (
	DefaultScanInterval      = time.Second
	DefaultTailReadInterval  = time.Second
	DefaultPrefixLength      = 50
	DefaultMinPrefixLength   = 20
	DefaultInactivityTimeout = 600 * time.Second
	DefaultFrameTimeout      = 300 * time.Second
	DefaultServerPort        = 5645
	DefaultSelfLogThrottle   = 60 * time.Second
)

// AgentConfig is the agent's fully-resolved, validated configuration.
type AgentConfig struct {
	ScanGlobs    []string `yaml:"scan"`
	ExcludeGlobs []string `yaml:"excludes"`

	ServerHost string `yaml:"-"`
	ServerPort int     `yaml:"-"`
	ServerAddr string `yaml:"server"`

	TLS        bool   `yaml:"tls"`
	TLSCertFile string `yaml:"tls_cert"`

	ClientToken string `yaml:"-"`

	LogFile string `yaml:"log"`
	Verbose bool   `yaml:"verbose"`

	ScanNewFilesInterval        time.Duration `yaml:"scan_new_files_interval"`
	TailReadInterval            time.Duration `yaml:"tail_read_interval"`
	PrefixLength                int           `yaml:"prefix_length"`
	MinPrefixLength             int           `yaml:"min_prefix_length"`
	RotatedFilesInactivityThreshold time.Duration `yaml:"rotated_files_inactivity_threshold"`
	FrameTimeout                time.Duration `yaml:"frame_timeout"`

	StatsDBPath string `yaml:"stats_db"`
}

// agentYAML mirrors AgentConfig's YAML-visible fields only; durations are
// read as seconds (floats allowed) to keep the config file readable.
type agentYAML struct {
	Scan                            []string `yaml:"scan"`
	Excludes                        []string `yaml:"excludes"`
	Server                           string   `yaml:"server"`
	TLS                              bool     `yaml:"tls"`
	TLSCert                          string   `yaml:"tls_cert"`
	Log                              string   `yaml:"log"`
	Verbose                          bool     `yaml:"verbose"`
	ScanNewFilesIntervalSec          float64  `yaml:"scan_new_files_interval"`
	TailReadIntervalSec              float64  `yaml:"tail_read_interval"`
	PrefixLength                     int      `yaml:"prefix_length"`
	MinPrefixLength                  int      `yaml:"min_prefix_length"`
	RotatedFilesInactivityThresholdSec float64 `yaml:"rotated_files_inactivity_threshold"`
	FrameTimeoutSec                  float64  `yaml:"frame_timeout"`
	StatsDB                          string   `yaml:"stats_db"`
}

// repeatableFlag collects repeated occurrences of a flag (e.g. --scan a
// --scan b), matching the agent CLI's "--scan (repeatable glob)" contract.
type repeatableFlag []string

func (r *repeatableFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatableFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

// LoadAgentConfig parses args (typically os.Args[1:]) against the agent's
// flag set, optionally merges a YAML file named by --conf, applies defaults,
// and validates the result.
func LoadAgentConfig(args []string) (*AgentConfig, error) {
	fs := flag.NewFlagSet("logline-agent", flag.ContinueOnError)

	var scan, exclude repeatableFlag
	confPath := fs.String("conf", "", "path to configuration file")
	logPath := fs.String("log", "", "path to log file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.BoolVar(verbose, "v", false, "enable debug logging (shorthand)")
	fs.Var(&scan, "scan", "glob pattern to scan for log files (repeatable)")
	fs.Var(&exclude, "exclude", "glob pattern to exclude from scanning (repeatable)")
	server := fs.String("server", "", "server address (host:port)")
	tls := fs.Bool("tls", false, "connect to the server over TLS")
	tlsCert := fs.String("tls-cert", "", "path to the server's certificate in PEM format")
	tokenFile := fs.String("token-file", "", "path to the file containing the client token")

	if err := fs.Parse(args); err != nil {
		return nil, errs.New(errs.Config, "parse flags", err)
	}

	cfg := &AgentConfig{
		ScanGlobs:    []string(scan),
		ExcludeGlobs: []string(exclude),
		ServerAddr:   *server,
		TLS:          *tls,
		TLSCertFile:  *tlsCert,
		LogFile:      *logPath,
		Verbose:      *verbose,
	}

	if *confPath != "" {
		if err := mergeAgentYAML(cfg, *confPath); err != nil {
			return nil, err
		}
	}

	cfg.ClientToken = resolveClientToken(*tokenFile)

	applyAgentDefaults(cfg)

	if err := validateAgentConfig(cfg); err != nil {
		return nil, err
	}

	host, port, err := ParseAddress(cfg.ServerAddr)
	if err != nil {
		return nil, errs.New(errs.Config, "server address", err)
	}
	cfg.ServerHost = host
	cfg.ServerPort = port

	return cfg, nil
}

// mergeAgentYAML reads path and fills any field in cfg that CLI flags left
// at its zero value. CLI flags always win, matching SPEC_FULL.md §10.1.
func mergeAgentYAML(cfg *AgentConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.Config, "read conf file", err)
	}
	var y agentYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return errs.New(errs.Config, "parse conf file", err)
	}

	if len(cfg.ScanGlobs) == 0 {
		cfg.ScanGlobs = y.Scan
	}
	if len(cfg.ExcludeGlobs) == 0 {
		cfg.ExcludeGlobs = y.Excludes
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = y.Server
	}
	if !cfg.TLS {
		cfg.TLS = y.TLS
	}
	if cfg.TLSCertFile == "" {
		cfg.TLSCertFile = y.TLSCert
	}
	if cfg.LogFile == "" {
		cfg.LogFile = y.Log
	}
	if !cfg.Verbose {
		cfg.Verbose = y.Verbose
	}
	if y.ScanNewFilesIntervalSec > 0 {
		cfg.ScanNewFilesInterval = durationFromSeconds(y.ScanNewFilesIntervalSec)
	}
	if y.TailReadIntervalSec > 0 {
		cfg.TailReadInterval = durationFromSeconds(y.TailReadIntervalSec)
	}
	if y.PrefixLength > 0 {
		cfg.PrefixLength = y.PrefixLength
	}
	if y.MinPrefixLength > 0 {
		cfg.MinPrefixLength = y.MinPrefixLength
	}
	if y.RotatedFilesInactivityThresholdSec > 0 {
		cfg.RotatedFilesInactivityThreshold = durationFromSeconds(y.RotatedFilesInactivityThresholdSec)
	}
	if y.FrameTimeoutSec > 0 {
		cfg.FrameTimeout = durationFromSeconds(y.FrameTimeoutSec)
	}
	if cfg.StatsDBPath == "" {
		cfg.StatsDBPath = y.StatsDB
	}
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// resolveClientToken reads the client token from tokenFile, falling back to
// the CLIENT_TOKEN environment variable as spec.md §6 directs.
func resolveClientToken(tokenFile string) string {
	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return os.Getenv("CLIENT_TOKEN")
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.ScanNewFilesInterval <= 0 {
		cfg.ScanNewFilesInterval = DefaultScanInterval
	}
	if cfg.TailReadInterval <= 0 {
		cfg.TailReadInterval = DefaultTailReadInterval
	}
	if cfg.PrefixLength <= 0 {
		cfg.PrefixLength = DefaultPrefixLength
	}
	if cfg.MinPrefixLength <= 0 {
		cfg.MinPrefixLength = DefaultMinPrefixLength
	}
	if cfg.RotatedFilesInactivityThreshold <= 0 {
		cfg.RotatedFilesInactivityThreshold = DefaultInactivityTimeout
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
}

func validateAgentConfig(cfg *AgentConfig) error {
	if len(cfg.ScanGlobs) == 0 {
		return errs.New(errs.Config, "validate", fmt.Errorf("no --scan glob patterns configured"))
	}
	if cfg.ServerAddr == "" {
		return errs.New(errs.Config, "validate", fmt.Errorf("--server is required"))
	}
	if cfg.MinPrefixLength > cfg.PrefixLength {
		return errs.New(errs.Config, "validate", fmt.Errorf("min_prefix_length (%d) cannot exceed prefix_length (%d)", cfg.MinPrefixLength, cfg.PrefixLength))
	}
	return nil
}
