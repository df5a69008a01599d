package main

import (
	"io"
	"time"

	"github.com/newacorn/nanohttp"
	"github.com/newacorn/nanohttp/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "nanohttpd",
	Short: "nanohttpd - embeddable HTTP/1.1 server engine",
	Long: `nanohttpd runs the nanohttp engine with a diagnostic echo responder or
a static file server.

Configuration:
  Config is loaded from nanohttpd.yaml in the current directory,
  $HOME/.nanohttpd/, or /etc/nanohttpd/.

  Environment variables override config values with the NANOHTTPD_ prefix.
  Example: NANOHTTPD_SERVER_ADDR=:9090`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		v = config.NewViper(cfgFile)
		return bindFlags(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./nanohttpd.yaml)")
}

// bindFlags lets explicitly set flags of cmd override the config.
func bindFlags(cmd *cobra.Command) error {
	for key, name := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "cannot bind flag %q", name)
		}
	}
	return nil
}

// flagKeys maps config keys to flag names.
var flagKeys = map[string]string{
	"server.addr":     "addr",
	"server.executor": "executor",
	"server.root":     "root",
	"metrics.addr":    "metrics-addr",
	"log.level":       "log-level",
}

func newLogger(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	nanohttp.UseShortFieldNames()
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), errors.Wrap(err, "invalid log level")
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
