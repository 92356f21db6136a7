package anvil

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/urfave/cli/v2"

	"github.com/anvilhost/anvil/pkg/command/suggest"
	"github.com/anvilhost/anvil/pkg/permission"
	"github.com/anvilhost/anvil/pkg/util/interrupt"
)

func permissionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "permissions",
		Usage: "Inspect a permissions file",
		Subcommands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Check whether a player holds a permission",
				ArgsUsage: "<file> <steamid64> <permission>",
				Action:    checkPermission,
			},
			{
				Name:      "watch",
				Usage:     "Reload a permissions file on every change until interrupted",
				ArgsUsage: "<file>",
				Action:    watchPermissions,
			},
		},
	}
}

func checkPermission(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.Exit("expected <file> <steamid64> <permission>", 1)
	}
	file, perm := c.Args().Get(0), c.Args().Get(2)
	player, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid steamid64 %q", c.Args().Get(1)), 1)
	}

	cfg, err := permission.ReadConfig(file)
	if err != nil {
		return cli.Exit(err, 1)
	}
	m := permission.New(permission.Options{Logger: logr.FromContextOrDiscard(c.Context)})
	if err = m.Load(cfg); err != nil {
		return cli.Exit(err, 1)
	}

	w := c.App.Writer
	groups := slices.Sorted(maps.Keys(cfg.PermissionGroups))
	for _, grant := range cfg.Players[c.Args().Get(1)] {
		if strings.ContainsAny(grant, ".*") || slices.Contains(groups, strings.ToLower(grant)) {
			continue
		}
		if closest, ok := suggest.Closest(grant, groups); ok {
			_, _ = fmt.Fprintf(w, "%q is not a group, did you mean %q?\n", grant, closest)
		}
	}
	if m.HasPermission(player, perm) {
		_, _ = fmt.Fprintf(w, "%d has %s\n", player, perm)
		return nil
	}
	_, _ = fmt.Fprintf(w, "%d does not have %s\n", player, perm)
	if granting := grantingGroups(m, groups, perm); len(granting) != 0 {
		_, _ = fmt.Fprintf(w, "granted by groups: %s\n", strings.Join(granting, ", "))
	}
	return cli.Exit("", 2)
}

// grantingGroups returns the groups that grant perm, checked through a
// temporary grant to a player no config can name.
func grantingGroups(m *permission.Manager, groups []string, perm string) (granting []string) {
	const probe = 0
	for _, group := range groups {
		m.AddPermission(probe, group)
		if m.HasPermission(probe, perm) {
			granting = append(granting, group)
		}
		m.ClearPermissions(probe)
	}
	return granting
}

func watchPermissions(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected a permissions file", 1)
	}
	file := c.Args().First()
	log := logr.FromContextOrDiscard(c.Context)

	m := permission.New(permission.Options{Logger: log})
	if err := m.LoadFile(file); err != nil {
		return cli.Exit(err, 1)
	}
	ctx, cancel := interrupt.TerminationContext(c.Context)
	defer cancel()
	if err := m.Watch(ctx, file); err != nil {
		return cli.Exit(err, 1)
	}
	log.Info("watching permissions file, press Ctrl+C to stop", "file", file)
	<-ctx.Done()
	return nil
}
