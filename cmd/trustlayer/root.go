package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trustlayer/trustlayer-guard/internal/config"
)

var (
	// Version info injected via ldflags at build time
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "trustlayer",
	Short: "Redact PII from prompts before they leave the browser",
	Long: `TrustLayer watches text fields, sends what the user typed to a local
sanitize service and rewrites the field when personal data was redacted.

  trustlayer serve   run the local sanitize service
  trustlayer watch   run the guard headless over stdin`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		initConfig()
		return nil
	},
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Logs go to stderr so stdout stays clean for piping.
	if logFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().
			Timestamp().
			Logger()
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./trustlayer.yaml or ~/.trustlayer/trustlayer.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(newServeCmd(), newWatchCmd(), versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.trustlayer")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("trustlayer")
		viper.SetConfigType("yaml")
	}
	config.SetDefaults(viper.GetViper())

	// The file is optional; env vars and defaults still apply.
	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("config file loaded")
	} else if cfgFile != "" {
		log.Warn().Err(err).Str("file", cfgFile).Msg("could not read config file")
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
