package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/messa/logline/internal/errs"
)

// ServerConfig is the server's fully-resolved, validated configuration.
type ServerConfig struct {
	BindHost string
	BindPort int
	BindAddr string

	DestDir string

	TLSCertFile         string
	TLSKeyFile          string
	TLSKeyPasswordFile  string
	TLSKeyPassword      string

	ClientTokenHashes []string

	LogFile string
	Verbose bool

	FrameTimeout string // kept as raw string; cmd/server parses via time.ParseDuration if set

	// Optional enrichment components, disabled unless set; see SPEC_FULL.md §11.
	CatalogDSN         string
	AdminAddr          string
	AdminJWTPubKeyPath string
	AuditLogPath       string
}

type serverYAML struct {
	Bind               string   `yaml:"bind"`
	Dest               string   `yaml:"dest"`
	TLSCert            string   `yaml:"tls_cert"`
	TLSKey             string   `yaml:"tls_key"`
	TLSKeyPasswordFile string   `yaml:"tls_key_password_file"`
	ClientTokenHash    []string `yaml:"client_token_hash"`
	Log                string   `yaml:"log"`
	Verbose            bool     `yaml:"verbose"`
	CatalogDSN         string   `yaml:"catalog_dsn"`
	AdminAddr          string   `yaml:"admin_addr"`
	AdminJWTPubKey     string   `yaml:"admin_jwt_pubkey"`
	AuditLogPath       string   `yaml:"audit_log"`
}

// LoadServerConfig parses args against the server's flag set, optionally
// merges a YAML file named by --conf (or the CONF environment variable),
// applies defaults, and validates the result.
func LoadServerConfig(args []string) (*ServerConfig, error) {
	fs := flag.NewFlagSet("logline-server", flag.ContinueOnError)

	var tokenHashes repeatableFlag
	confPath := fs.String("conf", os.Getenv("CONF"), "path to configuration file")
	logPath := fs.String("log", "", "path to log file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.BoolVar(verbose, "v", false, "enable debug logging (shorthand)")
	bind := fs.String("bind", fmt.Sprintf(":%d", DefaultServerPort), "address to bind (host:port)")
	dest := fs.String("dest", "", "destination directory for received log data")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate in PEM format")
	tlsKey := fs.String("tls-key", "", "path to TLS private key in PEM format")
	tlsKeyPasswordFile := fs.String("tls-key-password-file", "", "path to file containing the TLS private key password")
	fs.Var(&tokenHashes, "client-token-hash", "accepted client token SHA-1 hash, hex (repeatable)")
	catalogDSN := fs.String("catalog-dsn", "", "optional Postgres DSN for the ingestion catalog")
	adminAddr := fs.String("admin-addr", "", "optional address for the read-only admin API")
	adminJWTPubKey := fs.String("admin-jwt-pubkey", "", "optional PEM public key to require a signed JWT on admin requests")
	auditLog := fs.String("audit-log", "", "optional path to a tamper-evident audit log of authentication failures")

	if err := fs.Parse(args); err != nil {
		return nil, errs.New(errs.Config, "parse flags", err)
	}

	cfg := &ServerConfig{
		BindAddr:           *bind,
		DestDir:            *dest,
		TLSCertFile:        *tlsCert,
		TLSKeyFile:         *tlsKey,
		TLSKeyPasswordFile: *tlsKeyPasswordFile,
		ClientTokenHashes:  []string(tokenHashes),
		LogFile:            *logPath,
		Verbose:            *verbose,
		CatalogDSN:         *catalogDSN,
		AdminAddr:          *adminAddr,
		AdminJWTPubKeyPath: *adminJWTPubKey,
		AuditLogPath:       *auditLog,
	}

	if *confPath != "" {
		if err := mergeServerYAML(cfg, *confPath); err != nil {
			return nil, err
		}
	}

	cfg.TLSKeyPassword = os.Getenv("TLS_KEY_PASSWORD")

	if err := validateServerConfig(cfg); err != nil {
		return nil, err
	}

	host, port, err := ParseAddress(cfg.BindAddr)
	if err != nil {
		return nil, errs.New(errs.Config, "bind address", err)
	}
	cfg.BindHost = host
	cfg.BindPort = port

	return cfg, nil
}

func mergeServerYAML(cfg *ServerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.Config, "read conf file", err)
	}
	var y serverYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return errs.New(errs.Config, "parse conf file", err)
	}

	if cfg.BindAddr == "" || cfg.BindAddr == fmt.Sprintf(":%d", DefaultServerPort) {
		if y.Bind != "" {
			cfg.BindAddr = y.Bind
		}
	}
	if cfg.DestDir == "" {
		cfg.DestDir = y.Dest
	}
	if cfg.TLSCertFile == "" {
		cfg.TLSCertFile = y.TLSCert
	}
	if cfg.TLSKeyFile == "" {
		cfg.TLSKeyFile = y.TLSKey
	}
	if cfg.TLSKeyPasswordFile == "" {
		cfg.TLSKeyPasswordFile = y.TLSKeyPasswordFile
	}
	if len(cfg.ClientTokenHashes) == 0 {
		cfg.ClientTokenHashes = y.ClientTokenHash
	}
	if cfg.LogFile == "" {
		cfg.LogFile = y.Log
	}
	if !cfg.Verbose {
		cfg.Verbose = y.Verbose
	}
	if cfg.CatalogDSN == "" {
		cfg.CatalogDSN = y.CatalogDSN
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = y.AdminAddr
	}
	if cfg.AdminJWTPubKeyPath == "" {
		cfg.AdminJWTPubKeyPath = y.AdminJWTPubKey
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = y.AuditLogPath
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.DestDir == "" {
		return errs.New(errs.Config, "validate", fmt.Errorf("--dest is required"))
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errs.New(errs.Config, "validate", fmt.Errorf("--tls-cert and --tls-key must be given together"))
	}
	for _, h := range cfg.ClientTokenHashes {
		if len(strings.TrimSpace(h)) != 40 {
			return errs.New(errs.Config, "validate", fmt.Errorf("client token hash %q is not a 40-character SHA-1 hex digest", h))
		}
	}
	return nil
}
