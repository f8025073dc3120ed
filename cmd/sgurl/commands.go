package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/config"
	"github.com/haukened/sgurl/internal/sgurl/domain"
	"github.com/haukened/sgurl/internal/sgurl/gateways/graphql"
)

// cli owns the lazily built Application shared by the commands of one invocation.
type cli struct {
	load func() (*config.AppConfig, error)
	app  *Application

	// stdio overrides; nil keeps cobra's defaults
	in  io.Reader
	out io.Writer
	err io.Writer
}

// application loads configuration and builds the Application on first use.
func (c *cli) application() (*Application, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	app, err := buildApplication(cfg)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

func (c *cli) execute(ctx context.Context, args []string) error {
	root := c.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if cerr := c.app.Close(); cerr != nil {
			log.Warn(map[string]any{"error": cerr}, "Error closing store")
		}
		c.app = nil
	}
	return err
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Find the Sourcegraph instance that serves a repository",
		Long: `sgurl decides whether a repository is served by Sourcegraph cloud or by your
self-hosted Sourcegraph instance.

Both instances are asked concurrently and the first one that has the repository
mirrored wins. Answers are cached. Repositories matching the blocklist are never
looked up on cloud.

Configuration is read from SGURL_* environment variables and an optional .env file.

Examples:
  # Resolve a repository
  sgurl resolve github.com/acme/api

  # Point at a self-hosted instance, checking it first
  sgurl self-hosted set --check https://sourcegraph.acme.internal`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	if c.in != nil {
		root.SetIn(c.in)
	}
	if c.out != nil {
		root.SetOut(c.out)
	}
	if c.err != nil {
		root.SetErr(c.err)
	}

	root.AddCommand(
		c.resolveCommand(),
		c.selfHostedCommand(),
		c.blocklistCommand(),
		c.checkCommand(),
		c.cacheCommand(),
	)
	return root
}

func (c *cli) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <repo>...",
		Short: "Resolve repositories and switch to the instance serving them",
		Long: `Resolve each repository in order and make its instance the current one.

Every change of the current instance is printed once.

Examples:
  sgurl resolve github.com/acme/api github.com/acme/web
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			r := app.resolver

			changes, cancel := r.Observe()
			defer cancel()
			initial := <-changes

			var failed int
			for _, repo := range args {
				if err := r.Use(cmd.Context(), repo); err != nil {
					if ctxErr := cmd.Context().Err(); ctxErr != nil {
						return ctxErr
					}
					failed++
					color.New(color.FgRed).Fprintf(w, "✗ %s: %v\n", repo, err)
					if d := app.blocklist.Decide(repo); d.IsBlocked() {
						color.New(color.FgYellow).Fprintf(w, "  not looked up on %s: matches blocklist pattern %q\n", r.Cloud(), d.MatchedPattern)
					}
					continue
				}
				fmt.Fprintf(w, "%s %s\n", repo, color.GreenString("%s", r.Current()))
				printChanges(w, changes, &initial)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d repositories unresolved", failed, len(args))
			}
			return nil
		},
	}
}

// printChanges reports the emissions queued on changes. last tracks the value
// printed most recently.
func printChanges(w io.Writer, changes <-chan domain.Endpoint, last *domain.Endpoint) {
	for {
		select {
		case e, ok := <-changes:
			if !ok {
				return
			}
			if e == *last {
				continue
			}
			color.New(color.Bold).Fprintf(w, "→ current Sourcegraph URL: %s\n", e)
			*last = e
		default:
			return
		}
	}
}

func (c *cli) selfHostedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "self-hosted",
		Short: "Show or change the self-hosted Sourcegraph instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the self-hosted instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			e := app.resolver.SelfHosted()
			if e.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("not configured"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), e)
			return nil
		},
	}

	var check bool
	set := &cobra.Command{
		Use:   "set <url>",
		Short: "Set the self-hosted instance",
		Long: `Set the self-hosted instance. The URL is normalized before it is stored.

Examples:
  sgurl self-hosted set https://sourcegraph.acme.internal
  sgurl self-hosted set --check https://sourcegraph.acme.internal
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			e, err := domain.NormalizeEndpoint(args[0])
			if err != nil {
				return err
			}
			if e.IsZero() {
				return fmt.Errorf("%w: empty URL, use \"self-hosted clear\"", domain.ErrInvalidEndpoint)
			}
			if check {
				if err := checkEndpoint(cmd, app.client, e); err != nil {
					return err
				}
			}
			if err := app.resolver.SetSelfHosted(string(e)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "self-hosted instance set to %s\n", color.GreenString("%s", e))
			return nil
		},
	}
	set.Flags().BoolVar(&check, "check", false, "Verify the instance answers before saving it")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the self-hosted instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			if err := app.resolver.SetSelfHosted(""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "self-hosted instance cleared")
			return nil
		},
	}

	cmd.AddCommand(get, set, clearCmd)
	return cmd
}

func (c *cli) blocklistCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Manage repositories that must never be looked up on cloud",
		Long: `The blocklist holds one regular expression per line. A repository matching any
pattern is never looked up on Sourcegraph cloud; the self-hosted instance is unaffected.
Patterns are unanchored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the blocklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			printBlocklist(cmd.OutOrStdout(), app.resolver.Blocklist())
			return nil
		},
	}

	var (
		file    string
		enabled bool
	)
	set := &cobra.Command{
		Use:   "set [pattern]...",
		Short: "Replace the blocklist patterns",
		Long: `Replace the blocklist patterns with the given arguments, one pattern each, or with
the contents of --file ("-" reads stdin). The enabled flag is kept unless --enabled is given.

Examples:
  sgurl blocklist set '^github\.com/acme/' '^gitlab\.acme\.internal/'
  sgurl blocklist set --file patterns.txt --enabled
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := blocklistContent(cmd, file, args)
			if err != nil {
				return err
			}
			app, err := c.application()
			if err != nil {
				return err
			}
			bl := app.resolver.Blocklist()
			bl.Content = content
			if cmd.Flags().Changed("enabled") {
				bl.Enabled = enabled
			}
			if _, bad := bl.Compile(); len(bad) > 0 {
				for _, pe := range bad {
					color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "warning: %v\n", pe)
				}
			}
			if err := app.resolver.SetBlocklist(bl); err != nil {
				return err
			}
			printBlocklist(cmd.OutOrStdout(), bl)
			return nil
		},
	}
	set.Flags().StringVarP(&file, "file", "f", "", "Read patterns from a file, or - for stdin")
	set.Flags().BoolVar(&enabled, "enabled", false, "Enable or disable the blocklist")

	cmd.AddCommand(get, set, c.blocklistToggle("enable", true), c.blocklistToggle("disable", false))
	return cmd
}

func (c *cli) blocklistToggle(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: strings.ToUpper(use[:1]) + use[1:] + " the blocklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			bl := app.resolver.Blocklist()
			bl.Enabled = enabled
			if err := app.resolver.SetBlocklist(bl); err != nil {
				return err
			}
			printBlocklist(cmd.OutOrStdout(), bl)
			return nil
		},
	}
}

func blocklistContent(cmd *cobra.Command, file string, args []string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", errors.New("pass patterns as arguments or with --file, not both")
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read blocklist file: %w", err)
		}
		return string(b), nil
	default:
		return strings.Join(args, "\n"), nil
	}
}

func printBlocklist(w io.Writer, bl domain.Blocklist) {
	state := color.RedString("disabled")
	if bl.Enabled {
		state = color.GreenString("enabled")
	}
	color.New(color.Bold).Fprint(w, "Blocklist: ")
	fmt.Fprintln(w, state)
	for _, p := range bl.Patterns() {
		fmt.Fprintf(w, "  %s\n", p)
	}
}

func (c *cli) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Verify that a URL is a reachable Sourcegraph instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			e, err := domain.NormalizeEndpoint(args[0])
			if err != nil {
				return err
			}
			if e.IsZero() {
				return fmt.Errorf("%w: empty URL", domain.ErrInvalidEndpoint)
			}
			return checkEndpoint(cmd, app.client, e)
		},
	}
}

// checkEndpoint prints the outcome of a CheckEndpoint call and returns its error.
func checkEndpoint(cmd *cobra.Command, client *graphql.Client, e domain.Endpoint) error {
	w := cmd.OutOrStdout()
	v, err := client.CheckEndpoint(cmd.Context(), e)
	switch {
	case errors.Is(err, graphql.ErrEndpointAuth):
		color.New(color.FgYellow).Fprintf(w, "✗ %s rejected the access token (set SGURL_ACCESS_TOKEN)\n", e)
		return err
	case err != nil:
		color.New(color.FgRed).Fprintf(w, "✗ %s is not a Sourcegraph instance\n", e)
		return err
	}
	fmt.Fprintf(w, "%s %s (Sourcegraph %s)\n", color.GreenString("✓"), e, v)
	return nil
}

func (c *cli) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the resolution cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			rs := app.cache.Stats()
			bs := app.blocklist.Stats()

			bold := color.New(color.Bold)
			bold.Fprintln(w, "Resolutions")
			fmt.Fprintf(w, "  store:        %s\n", app.store.Path())
			fmt.Fprintf(w, "  entries:      %d\n", rs.Entries)
			fmt.Fprintf(w, "  memory hits:  %d\n", rs.FrontHits)
			fmt.Fprintf(w, "  bloom skips:  %d\n", rs.BloomSkips)
			fmt.Fprintf(w, "  disk reads:   %d (%d hits)\n", rs.DiskReads, rs.DiskHits)
			bold.Fprintln(w, "Blocklist decisions")
			fmt.Fprintf(w, "  patterns:     %d (%d invalid)\n", bs.Patterns, bs.Invalid)
			fmt.Fprintf(w, "  cached:       %d\n", bs.Cached)
			fmt.Fprintf(w, "  hits/misses:  %d/%d\n", bs.Hits, bs.Misses)
			fmt.Fprintf(w, "  evictions:    %d\n", bs.Evictions)
			return nil
		},
	})
	return cmd
}
