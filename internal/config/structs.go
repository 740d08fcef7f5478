package config

import (
	"time"

	"github.com/panyam/authsession/internal/logger"
)

// Modes select which hook a CLI command mounts.
const (
	ModeLocal    = "local"
	ModeProvider = "provider"
	ModeHybrid   = "hybrid"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverFile      = "file"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverDatastore = "datastore"
)

// Config overall data structure.
type Config struct {
	Mode     string     `mapstructure:"mode"`
	Log      logger.Log `mapstructure:"log"`
	Backend  Backend    `mapstructure:"backend"`
	Provider Provider   `mapstructure:"provider"`
	Store    Store      `mapstructure:"store"`
	Server   Server     `mapstructure:"server"`
}

// Backend is the application backend the client talks to.
type Backend struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RedirectTo string        `mapstructure:"redirectTo"` // password reset landing page
}

// Provider is the OAuth2 / OIDC identity provider.
type Provider struct {
	Issuer           string   `mapstructure:"issuer"` // enables discovery and ID token verification
	ClientID         string   `mapstructure:"clientID"`
	ClientSecret     string   `mapstructure:"clientSecret"`
	TokenURL         string   `mapstructure:"tokenURL"`
	UserInfoURL      string   `mapstructure:"userInfoURL"`
	SignupURL        string   `mapstructure:"signupURL"`
	ResetPasswordURL string   `mapstructure:"resetPasswordURL"`
	RevokeURL        string   `mapstructure:"revokeURL"`
	Scopes           []string `mapstructure:"scopes"`
}

// Store is where the session token is persisted.
type Store struct {
	Driver string `mapstructure:"driver"`

	// file
	Path string `mapstructure:"path"`

	// sqlite, postgres, mysql
	DSN string `mapstructure:"dsn"`

	// namespace of the entries in shared stores
	Namespace string `mapstructure:"namespace"`

	// datastore
	ProjectID       string `mapstructure:"projectID"`
	CredentialsFile string `mapstructure:"credentialsFile"`
}

// Server configures the development backend started by "serve".
type Server struct {
	Addr                string        `mapstructure:"addr"`
	GRPCAddr            string        `mapstructure:"grpcAddr"` // empty disables the gRPC listener
	MetricsPath         string        `mapstructure:"metricsPath"`
	JWTSecret           string        `mapstructure:"jwtSecret"`
	JWTIssuer           string        `mapstructure:"jwtIssuer"`
	TokenExpiry         time.Duration `mapstructure:"tokenExpiry"`
	DefaultRole         string        `mapstructure:"defaultRole"`
	RequireConfirmation bool          `mapstructure:"requireConfirmation"`
	ResetURL            string        `mapstructure:"resetURL"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdownTimeout"`

	// Accounts uses the same drivers as Store, except file and datastore.
	Accounts Store `mapstructure:"accounts"`
}
