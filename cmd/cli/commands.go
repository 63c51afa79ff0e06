package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/config"
	"github.com/keshon/salabot/internal/prefix"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/internal/task"
	v "github.com/keshon/salabot/internal/version"
)

// opener returns the store the commands work on.
type opener func(envFile, driver, path string) (store.Store, error)

// openFromEnv reads the bot configuration and lets flags override the backend.
func openFromEnv(envFile, driver, path string) (store.Store, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	sc := cfg.Store()
	if driver != "" {
		sc.Driver = driver
	}
	if path != "" {
		sc.Path = path
	}
	st, err := store.Open(sc, zap.NewNop())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("no storage is configured, set STORAGE_DRIVER or --driver")
	}
	return st, nil
}

type cli struct {
	open    opener
	envFile string
	driver  string
	path    string
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "salabot-cli",
		Short: "Inspect and edit " + v.AppName + " storage",
		Long: `Administer the storage the bot keeps: guilds, prefixes, role grants and
task subscriptions. Settings are read from the same environment as the bot;
--driver and --path override the backend.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "environment file to load")
	root.PersistentFlags().StringVar(&c.driver, "driver", "", "storage driver (sqlite, mysql, file)")
	root.PersistentFlags().StringVar(&c.path, "path", "", "sqlite database or JSON file")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", v.AppName, v.Version, v.Commit)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the storage schema",
			Args:  cobra.NoArgs,
			RunE:  c.withStore(c.migrate),
		},
		&cobra.Command{
			Use:   "guilds",
			Short: "List known guilds",
			Args:  cobra.NoArgs,
			RunE:  c.withStore(c.guilds),
		},
		&cobra.Command{
			Use:   "prefix <guild> [prefix]",
			Short: "Show or set the command prefix of a guild",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  c.withStore(c.prefix),
		},
		&cobra.Command{
			Use:   "forget <guild>",
			Short: "Delete a guild with its grants and subscriptions",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withStore(c.forget),
		},
		&cobra.Command{
			Use:   "grants <guild>",
			Short: "List role grants of a guild",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withStore(c.grants),
		},
		&cobra.Command{
			Use:   "grant <guild> <role> <command>...",
			Short: "Let a role run commands",
			Args:  cobra.MinimumNArgs(3),
			RunE:  c.withStore(c.grant),
		},
		&cobra.Command{
			Use:   "revoke <guild> <role> <command>...",
			Short: "Take commands away from a role",
			Args:  cobra.MinimumNArgs(3),
			RunE:  c.withStore(c.revoke),
		},
		&cobra.Command{
			Use:   "subscriptions <task>",
			Short: "List the guilds a task delivers to",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withStore(c.subscriptions),
		},
		&cobra.Command{
			Use:   "unsubscribe <task> <guild>",
			Short: "Stop delivering a task to a guild",
			Args:  cobra.ExactArgs(2),
			RunE:  c.withStore(c.unsubscribe),
		},
	)
	return root
}

type storeRunE func(cmd *cobra.Command, st store.Store, args []string) error

func (c *cli) withStore(run storeRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		st, err := c.open(c.envFile, c.driver, c.path)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, st.Close())
		}()
		return run(cmd, st, args)
	}
}

func (c *cli) migrate(cmd *cobra.Command, _ store.Store, _ []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "Storage is up to date.")
	return nil
}

func (c *cli) guilds(cmd *cobra.Command, st store.Store, _ []string) error {
	guilds, err := st.Guilds(cmd.Context())
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}
	w := table(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSINCE")
	for _, g := range guilds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.ID, g.Name, g.Prefix, day(g.CreatedAt))
	}
	return w.Flush()
}

func (c *cli) prefix(cmd *cobra.Command, st store.Store, args []string) error {
	guildID := args[0]
	if len(args) == 2 {
		if err := prefix.Validate(args[1]); err != nil {
			return err
		}
		if err := st.SetGuildPrefix(cmd.Context(), guildID, args[1]); err != nil {
			return fmt.Errorf("set prefix: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Prefix of %s set to %q.\n", guildID, args[1])
		return nil
	}

	g, err := st.FindGuild(cmd.Context(), guildID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("guild %s is not known", guildID)
	case err != nil:
		return fmt.Errorf("find guild: %w", err)
	case g.Prefix == "":
		fmt.Fprintln(cmd.OutOrStdout(), "default")
	default:
		fmt.Fprintln(cmd.OutOrStdout(), g.Prefix)
	}
	return nil
}

func (c *cli) forget(cmd *cobra.Command, st store.Store, args []string) error {
	if err := st.DeleteGuild(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete guild: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Guild %s forgotten.\n", args[0])
	return nil
}

func (c *cli) grants(cmd *cobra.Command, st store.Store, args []string) error {
	grants, err := st.RoleGrants(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list grants: %w", err)
	}
	if len(grants) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No permission flags set.")
		return nil
	}
	w := table(cmd.OutOrStdout())
	fmt.Fprintln(w, "COMMAND\tROLE")
	for _, g := range grants {
		fmt.Fprintf(w, "%s\t%s\n", g.Command, g.RoleID)
	}
	return w.Flush()
}

func (c *cli) grant(cmd *cobra.Command, st store.Store, args []string) error {
	guildID, roleID := args[0], args[1]
	n := 0
	for _, command := range args[2:] {
		added, err := st.AddRoleGrant(cmd.Context(), guildID, command, roleID)
		if err != nil {
			return fmt.Errorf("grant %s: %w", command, err)
		}
		if added {
			n++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d grant(s) added.\n", n)
	return nil
}

func (c *cli) revoke(cmd *cobra.Command, st store.Store, args []string) error {
	guildID, roleID := args[0], args[1]
	n := 0
	for _, command := range args[2:] {
		removed, err := st.RemoveRoleGrant(cmd.Context(), guildID, command, roleID)
		if err != nil {
			return fmt.Errorf("revoke %s: %w", command, err)
		}
		if removed {
			n++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d grant(s) removed.\n", n)
	return nil
}

func (c *cli) subscriptions(cmd *cobra.Command, st store.Store, args []string) error {
	subs, err := st.Subscriptions(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	w := table(cmd.OutOrStdout())
	fmt.Fprintln(w, "GUILD\tCHANNEL\tARGS\tSINCE")
	for _, s := range subs {
		taskArgs, err := task.DecodeArgs(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", s.GuildID, s.ChannelID, taskArgs, day(s.CreatedAt))
	}
	return w.Flush()
}

func (c *cli) unsubscribe(cmd *cobra.Command, st store.Store, args []string) error {
	if err := st.DeleteSubscription(cmd.Context(), args[0], args[1]); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s no longer delivers to %s. Restart the bot to apply.\n", args[0], args[1])
	return nil
}

func table(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}
