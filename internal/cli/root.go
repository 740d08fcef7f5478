// Package cli implements the authsession command line.
package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/panyam/authsession/internal/config"
	"github.com/panyam/authsession/internal/logger"
)

// app carries what every command needs once the root command has loaded
// the configuration.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

// NewRootCommand builds the authsession command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "authsession",
		Short: "Sign in to an authsession backend from the command line",
		Long: `authsession keeps a signed-in session for an application backend and
an optional OAuth2 identity provider.

Configuration is read from --config (or ./authsession.yaml,
~/.config/authsession/authsession.yaml) and AUTHSESSION_* environment
variables, e.g. AUTHSESSION_BACKEND_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(
		serveCmd(a),
		loginCmd(a),
		signupCmd(a),
		logoutCmd(a),
		whoamiCmd(a),
		resetPasswordCmd(a),
	)

	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.LogLevel = a.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}

	a.cfg = cfg
	log.Debug().Str("mode", cfg.Mode).Str("store", cfg.Store.Driver).Msg("configuration loaded")
	return nil
}
