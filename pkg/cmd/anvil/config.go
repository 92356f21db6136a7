package anvil

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/anvilhost/anvil/pkg/anvil"
	"github.com/anvilhost/anvil/pkg/command/suggest"
	"github.com/anvilhost/anvil/pkg/permission"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Output default configuration file",
		Description: `Output the default configuration file to stdout or a file.
You can redirect to a file or use the --write flag:

	anvil config > anvil.yml
	anvil config --write              # Writes to anvil.yml

Available config types:
  - full (default): Host configuration with all options
  - minimal: Empty configuration (uses all defaults)
  - permissions: Example permissions file`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Config type: full, minimal or permissions",
				Value:   "full",
			},
			&cli.BoolFlag{
				Name:    "write",
				Aliases: []string{"w"},
				Usage:   "Write config to a file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			configType := c.String("type")
			configBytes, outputFile, err := configBytes(configType)
			if err != nil {
				return cli.Exit(err, 1)
			}

			if c.Bool("write") {
				err := os.WriteFile(outputFile, configBytes, 0644)
				if err != nil {
					return cli.Exit(fmt.Errorf("error writing config to %q: %w", outputFile, err), 1)
				}
				_, _ = fmt.Fprintf(c.App.Writer, "Configuration written to %s\n", outputFile)
				return nil
			}

			if _, err = c.App.Writer.Write(configBytes); err != nil {
				return cli.Exit(fmt.Errorf("error writing config: %w", err), 1)
			}
			return nil
		},
	}
}

// examplePermissions is written by "anvil config --type permissions".
var examplePermissions = permission.Config{
	PermissionGroups: map[string][]string{
		permission.DefaultGroup: {"chat.*"},
		"admin":                 {"moderator", "admin.*"},
		"moderator":             {"kick", "mute.*"},
	},
	Players: map[string][]string{
		"76561198000000001": {"admin"},
	},
}

var configTypes = []string{"full", "minimal", "permissions"}

// configBytes returns the content and default file name of a config type.
func configBytes(configType string) ([]byte, string, error) {
	var (
		v    any
		file string
	)
	switch configType {
	case "full":
		v, file = anvil.DefaultConfig, "anvil.yml"
	case "minimal":
		return []byte("# All options use their defaults, see 'anvil config'.\n{}\n"), "anvil.yml", nil
	case "permissions":
		v, file = examplePermissions, "permissions.yml"
	default:
		msg := fmt.Sprintf("unknown config type: %s (valid types: %s)", configType, strings.Join(configTypes, ", "))
		if closest, ok := suggest.Closest(configType, configTypes); ok {
			msg += fmt.Sprintf(", did you mean %q?", closest)
		}
		return nil, "", errors.New(msg)
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("error encoding %s config: %w", configType, err)
	}
	return b, file, nil
}
