// Package config provides functionality for managing configuration options
// for the storefront client using command-line flags, an optional config
// file and environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRESHTRIO_"

// Options holds the configuration values for the client.
type Options struct {
	// APIURL is the backend base URL, including the /api prefix.
	APIURL string `json:"api_url" yaml:"api_url"`
	// Timeout bounds every backend request.
	Timeout Duration `json:"timeout" yaml:"timeout"`
	// CAFile adds a custom root CA for the backend.
	CAFile string `json:"ca_file" yaml:"ca_file"`
	// CertFile and KeyFile present a client certificate to the backend.
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	// PageSize is the catalog page size.
	PageSize int `json:"page_size" yaml:"page_size"`

	FirebaseAPIKey string `json:"firebase_api_key" yaml:"firebase_api_key"`
	// IdentityURL and SecureTokenURL override the Firebase endpoints.
	IdentityURL    string `json:"identity_url" yaml:"identity_url"`
	SecureTokenURL string `json:"secure_token_url" yaml:"secure_token_url"`

	GoogleClientID     string `json:"google_client_id" yaml:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret" yaml:"google_client_secret"`
	// GoogleCallbackAddr is the loopback listen address of the OAuth callback.
	GoogleCallbackAddr string `json:"google_callback_addr" yaml:"google_callback_addr"`

	// StorageDriver selects the local storage backend.
	StorageDriver string `json:"storage_driver" yaml:"storage_driver"`
	// StorageDSN is the database DSN or Redis URL for the sql and redis drivers.
	StorageDSN string `json:"storage_dsn" yaml:"storage_dsn"`
	// DataDir holds the file storage and the secure key.
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// SecureKey is the secure tier key file. Empty means DataDir/secure.key.
	SecureKey string `json:"secure_key" yaml:"secure_key"`

	LogLevel string `json:"log_level" yaml:"log_level"`

	// Config is the path to the config file.
	Config string `json:"-" yaml:"-"`
}

// Duration is a time.Duration read from "10s" strings or integer seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in defaults.
func Default() *Options {
	return &Options{
		APIURL:             "http://localhost:8080/api",
		Timeout:            Duration(10 * time.Second),
		PageSize:           20,
		GoogleCallbackAddr: "127.0.0.1:0",
		StorageDriver:      DriverFile,
		DataDir:            defaultDataDir(),
		LogLevel:           "info",
		Config:             "config.json",
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".freshtrio"
	}
	return filepath.Join(dir, "freshtrio")
}

// BindFlags registers a flag for every option on fs.
func BindFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringVar(&o.APIURL, "api-url", o.APIURL, "backend base URL")
	fs.DurationVar((*time.Duration)(&o.Timeout), "timeout", o.Timeout.Std(), "backend request timeout")
	fs.StringVar(&o.CAFile, "ca", o.CAFile, "path to a custom root CA")
	fs.StringVar(&o.CertFile, "cert", o.CertFile, "path to client cert")
	fs.StringVar(&o.KeyFile, "key", o.KeyFile, "path to client key")
	fs.IntVar(&o.PageSize, "page-size", o.PageSize, "catalog page size")
	fs.StringVar(&o.FirebaseAPIKey, "firebase-api-key", o.FirebaseAPIKey, "Firebase web API key")
	fs.StringVar(&o.IdentityURL, "identity-url", o.IdentityURL, "Identity Toolkit base URL override")
	fs.StringVar(&o.SecureTokenURL, "secure-token-url", o.SecureTokenURL, "Secure Token base URL override")
	fs.StringVar(&o.GoogleClientID, "google-client-id", o.GoogleClientID, "Google OAuth client id")
	fs.StringVar(&o.GoogleClientSecret, "google-client-secret", o.GoogleClientSecret, "Google OAuth client secret")
	fs.StringVar(&o.GoogleCallbackAddr, "google-callback-addr", o.GoogleCallbackAddr, "loopback address for the Google sign-in callback")
	fs.StringVar(&o.StorageDriver, "storage", o.StorageDriver, "storage driver: file | sqlite | postgres | redis | memory")
	fs.StringVar(&o.StorageDSN, "storage-dsn", o.StorageDSN, "storage DSN for the sqlite, postgres and redis drivers")
	fs.StringVar(&o.DataDir, "data-dir", o.DataDir, "directory for local state")
	fs.StringVar(&o.SecureKey, "secure-key", o.SecureKey, "secure storage key file")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.StringVarP(&o.Config, "config", "c", o.Config, "path to config file")
}

// Load applies the config file and then the environment on top of the flag
// values already in o, and validates the result.
func Load(o *Options) error {
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}

	if o.Config != "" {
		if _, err := os.Stat(o.Config); err == nil {
			if err := loadFile(o.Config, o); err != nil {
				return err
			}
		}
	}

	if err := applyEnv(o); err != nil {
		return err
	}
	return o.Validate()
}

func loadFile(path string, o *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, o)
	default:
		err = json.Unmarshal(data, o)
	}
	if err != nil {
		return fmt.Errorf("error while parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(o *Options) error {
	strs := map[string]*string{
		"API_URL":              &o.APIURL,
		"CA_FILE":              &o.CAFile,
		"FIREBASE_API_KEY":     &o.FirebaseAPIKey,
		"IDENTITY_URL":         &o.IdentityURL,
		"SECURE_TOKEN_URL":     &o.SecureTokenURL,
		"GOOGLE_CLIENT_ID":     &o.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &o.GoogleClientSecret,
		"GOOGLE_CALLBACK_ADDR": &o.GoogleCallbackAddr,
		"STORAGE_DRIVER":       &o.StorageDriver,
		"STORAGE_DSN":          &o.StorageDSN,
		"DATA_DIR":             &o.DataDir,
		"CERT_FILE":            &o.CertFile,
		"KEY_FILE":             &o.KeyFile,
		"SECURE_KEY":           &o.SecureKey,
		"LOG_LEVEL":            &o.LogLevel,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		if err := o.Timeout.parse(v); err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", EnvPrefix, err)
		}
	}
	if v := os.Getenv(EnvPrefix + "PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPAGE_SIZE: %w", EnvPrefix, err)
		}
		o.PageSize = n
	}
	return nil
}

// Validate checks the option combination.
func (o *Options) Validate() error {
	switch o.StorageDriver {
	case DriverFile, DriverMemory:
	case DriverSQLite, DriverPostgres, DriverRedis:
		if o.StorageDSN == "" && o.StorageDriver != DriverSQLite {
			return fmt.Errorf("storage driver %s requires a DSN", o.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", o.StorageDriver)
	}
	if o.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// SecureKeyFile returns the secure tier key path.
func (o *Options) SecureKeyFile() string {
	if o.SecureKey != "" {
		return o.SecureKey
	}
	return filepath.Join(o.DataDir, "secure.key")
}

// SQLiteDSN returns the sqlite database path, defaulting into DataDir.
func (o *Options) SQLiteDSN() string {
	if o.StorageDSN != "" {
		return o.StorageDSN
	}
	return filepath.Join(o.DataDir, "freshtrio.db")
}
