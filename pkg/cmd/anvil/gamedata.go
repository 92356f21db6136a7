package anvil

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/anvilhost/anvil/pkg/gamedata"
)

func gameDataCommand() *cli.Command {
	return &cli.Command{
		Name:      "gamedata",
		Usage:     "Check a game data directory",
		ArgsUsage: "<dir>",
		Description: `Reads signatures.jsonc, offsets.jsonc and patches.jsonc from dir,
reports malformed entries and lists what a platform gets.

	anvil gamedata resources/gamedata --platform linux`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "platform",
				Aliases: []string{"p"},
				Usage:   "Platform to list entries for: windows or linux (default: current)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected a game data directory", 1)
			}
			dir := c.Args().First()
			log := logr.FromContextOrDiscard(c.Context)

			p := gamedata.Platform(c.String("platform"))
			switch p {
			case "":
				p = gamedata.CurrentPlatform()
			case gamedata.Windows, gamedata.Linux:
			default:
				return cli.Exit(fmt.Sprintf("unknown platform %q", p), 1)
			}

			set, err := gamedata.ReadDir(dir)
			for _, e := range multierr.Errors(err) {
				log.Info("skipped game data entry", "error", e.Error())
			}

			w := c.App.Writer
			_, _ = fmt.Fprintf(w, "Game data in %s for %s\n", dir, p)
			for _, name := range gamedata.Names(set.Signatures) {
				sig := set.Signatures[name]
				_, _ = fmt.Fprintf(w, "  signature %s [%s] %s\n", name, sig.Lib, orMissing(sig.For(p)))
			}
			for _, name := range gamedata.Names(set.Offsets) {
				_, _ = fmt.Fprintf(w, "  offset %s %d\n", name, set.Offsets[name].For(p))
			}
			for _, name := range gamedata.Names(set.Patches) {
				patch := set.Patches[name]
				_, _ = fmt.Fprintf(w, "  patch %s -> %s %s\n", name, patch.Signature, orMissing(patch.For(p)))
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("%d invalid entries", len(multierr.Errors(err))), 1)
			}
			return nil
		},
	}
}

func orMissing(s string) string {
	if s == "" {
		return "<missing>"
	}
	return s
}
