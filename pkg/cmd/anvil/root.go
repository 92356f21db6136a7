// Package anvil is the command line of the Anvil plugin host.
package anvil

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anvilhost/anvil/pkg/anvil"
	"github.com/anvilhost/anvil/pkg/version"
)

// Execute runs App() and calls os.Exit when finished.
func Execute() {
	if err := App().Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func App() *cli.App {
	app := cli.NewApp()
	app.Name = "anvil"
	app.Usage = "Anvil is a plugin host for Source 2 game servers."
	app.Description = `Tooling for the Anvil plugin host. Without a subcommand the
host config is loaded and validated.

Env vars with the ANVIL_ prefix override config file values,
e.g. ANVIL_ERRORS_FATAL=true.`
	app.Version = version.String()

	// Use -V for version, -v is verbosity.
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}

	var (
		debug      bool
		configFile string
		verbosity  int
	)
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       `config file (default: ./anvil.yml)`,
			EnvVars:     []string{"ANVIL_CONFIG"},
			Destination: &configFile,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Aliases:     []string{"d"},
			Usage:       "Enable debug mode and highest log verbosity",
			Destination: &debug,
			EnvVars:     []string{"ANVIL_DEBUG"},
		},
		&cli.IntFlag{
			Name:        "verbosity",
			Aliases:     []string{"v"},
			Usage:       "The higher the verbosity the more logs are shown",
			EnvVars:     []string{"ANVIL_VERBOSITY"},
			Destination: &verbosity,
		},
	}
	app.Commands = []*cli.Command{
		configCommand(),
		gameDataCommand(),
		permissionsCommand(),
	}
	app.Before = func(c *cli.Context) error {
		if debug {
			verbosity = 10
		}
		log, err := newLogger(debug, verbosity)
		if err != nil {
			return cli.Exit(fmt.Errorf("error creating zap logger: %w", err), 1)
		}
		c.Context = logr.NewContext(c.Context, log)
		return nil
	}
	app.Action = func(c *cli.Context) error {
		log := logr.FromContextOrDiscard(c.Context)

		v := newViper(configFile)
		cfg, err := anvil.LoadConfig(v)
		if err != nil {
			return cli.Exit(err, 1)
		}
		if used := v.ConfigFileUsed(); used != "" {
			log.Info("using config file", "config", used)
		}
		if debug {
			cfg.Debug = true
		}

		warns, errs := cfg.Validate()
		for _, w := range warns {
			log.Info("config validation warn", "warn", w.Error())
		}
		if len(errs) != 0 {
			for _, e := range errs {
				log.Info("config validation error", "error", e.Error())
			}
			return cli.Exit(errors.New("invalid config"), 1)
		}
		log.Info("config is valid",
			"followServerGuidelines", cfg.FollowServerGuidelines,
			"gameDataDir", cfg.GameDataDir,
			"permissionsFile", cfg.PermissionsFile)
		return nil
	}
	return app
}

// newViper returns a viper reading configFile or ./anvil.yml and
// ANVIL_ prefixed env vars.
func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ANVIL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if configFile == "" {
		configFile = "anvil.yml"
	}
	v.SetConfigFile(configFile)
	return v
}

// newLogger returns a new zap logger with a modified production
// or development default config to ensure human readability.
func newLogger(debug bool, v int) (l logr.Logger, err error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-v))

	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zl), nil
}
