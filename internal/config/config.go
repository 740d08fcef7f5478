// Package config loads configuration from an optional file and
// AUTHSESSION_* environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTHSESSION_BACKEND_URL.
const EnvPrefix = "AUTHSESSION"

// Load reads configuration from path (any format viper understands) and the
// environment. With an empty path, "authsession.{yaml,toml,json}" is looked
// up in the working directory and ~/.config/authsession; a missing file is
// not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("authsession")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/authsession")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, pkgerrors.Wrap(err, "failed to read config file")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, pkgerrors.Wrap(err, "failed to decode config")
	}

	return c, Validate(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeLocal)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.service", "authsession")
	v.SetDefault("log.console.enabled", true)
	v.SetDefault("log.console.pretty", true)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.maxSize", 10)
	v.SetDefault("log.file.maxBackups", 3)
	v.SetDefault("log.file.maxAge", 28)

	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.timeout", 10*time.Second)

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.namespace", "default")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metricsPath", "/metrics")
	v.SetDefault("server.jwtIssuer", "authsession-devserver")
	v.SetDefault("server.tokenExpiry", 24*time.Hour)
	v.SetDefault("server.defaultRole", "user")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.accounts.driver", DriverMemory)

	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{
		"provider.issuer", "provider.clientID", "provider.clientSecret", "provider.tokenURL",
		"provider.userInfoURL", "provider.signupURL", "provider.resetPasswordURL", "provider.revokeURL",
		"store.path", "store.dsn", "store.projectID", "store.credentialsFile",
		"backend.redirectTo", "server.grpcAddr", "server.jwtSecret", "server.resetURL",
		"server.accounts.dsn",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.requireConfirmation", false)
}

// Validate checks the settings the selected mode needs.
func Validate(c Config) error {
	invalid := "invalid config"

	switch c.Mode {
	case ModeLocal, ModeHybrid:
		if c.Backend.URL == "" {
			return pkgerrors.Wrap(ErrEmptyBackendURL, invalid)
		}
	case ModeProvider:
	default:
		return pkgerrors.Wrapf(ErrUnknownMode, "%s: %q", invalid, c.Mode)
	}

	if c.Mode != ModeLocal && c.Provider.Issuer == "" && c.Provider.TokenURL == "" {
		return pkgerrors.Wrap(ErrEmptyProvider, invalid)
	}

	if err := validateStore(c.Store, "store"); err != nil {
		return pkgerrors.Wrap(err, invalid)
	}
	return nil
}

// ValidateServer checks the settings "serve" needs.
func ValidateServer(s Server) error {
	invalid := "invalid server config"
	if len(s.JWTSecret) < 16 {
		return pkgerrors.Wrap(ErrShortSecret, invalid)
	}
	switch s.Accounts.Driver {
	case DriverFile, DriverDatastore:
		return pkgerrors.Wrapf(ErrUnknownStoreDriver, "%s: server.accounts.driver %q", invalid, s.Accounts.Driver)
	}
	if err := validateStore(s.Accounts, "server.accounts"); err != nil {
		return pkgerrors.Wrap(err, invalid)
	}
	return nil
}

func validateStore(s Store, prefix string) error {
	switch s.Driver {
	case DriverMemory, DriverFile:
	case DriverSQLite, DriverPostgres, DriverMySQL:
		if s.DSN == "" {
			return pkgerrors.Wrapf(ErrEmptyDSN, "%s.driver %s", prefix, s.Driver)
		}
	case DriverDatastore:
		if s.ProjectID == "" {
			return ErrEmptyProjectID
		}
	default:
		return pkgerrors.Wrapf(ErrUnknownStoreDriver, "%s.driver %q", prefix, s.Driver)
	}
	return nil
}
