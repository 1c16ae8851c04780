package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/digkill/imagify/internal/app"
	"github.com/digkill/imagify/internal/checkout"
	"github.com/digkill/imagify/internal/config"
	"github.com/digkill/imagify/internal/session"
	"github.com/digkill/imagify/pkg/logger"
)

type cli struct {
	out    io.Writer
	app    *app.App
	server *checkout.Server
}

func newRootCmd(out io.Writer) (*cobra.Command, *cli) {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:          "imagify",
		Short:        "Generate images from text prompts and manage imagify credits",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context())
		},
	}
	root.SetOut(out)
	root.AddCommand(
		c.registerCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.creditsCmd(),
		c.generateCmd(),
		c.historyCmd(),
		c.plansCmd(),
		c.buyCmd(),
		c.recoverCmd(),
	)
	return root, c
}

func (c *cli) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	launch := func(url string) error {
		_, err := fmt.Fprintf(c.out, "Open this page to complete the payment:\n  %s\n", url)
		return err
	}
	a, server, err := app.Bootstrap(ctx, cfg, log, c.out, launch)
	if err != nil {
		return err
	}
	c.app = a
	c.server = server
	if err := a.Start(ctx); err != nil {
		log.Warn("restore session", "err", err)
	}
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

func (c *cli) registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.app.Auth.Register(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			c.app.Wait()
			fmt.Fprintf(c.out, "Welcome, %s. Credits: %d\n", profile.Name, c.app.Store.Credits())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.app.Auth.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			c.app.Wait()
			fmt.Fprintf(c.out, "Logged in as %s. Credits: %d\n", profile.Name, c.app.Store.Credits())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Auth.Logout(cmd.Context())
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.Wait()
			snap := c.app.Store.Snapshot()
			if !snap.Authenticated() {
				fmt.Fprintln(c.out, "Not logged in.")
				return nil
			}
			if snap.Profile != nil {
				fmt.Fprintf(c.out, "%s <%s>\n", snap.Profile.Name, snap.Profile.Email)
			}
			fmt.Fprintf(c.out, "Credits: %d\n", snap.Credits)
			return nil
		},
	}
}

func (c *cli) creditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Reload and print the credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.app.Store.Authenticated() {
				return errNotLoggedIn
			}
			if err := c.app.Credits.Load(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Credits: %d\n", c.app.Store.Credits())
			return nil
		},
	}
}

func (c *cli) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate an image from a text prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Generation.Generate(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				if c.app.Store.ShowLogin() {
					fmt.Fprintln(c.out, "Run `imagify login` first.")
				}
				if c.app.Store.TakeRoute() == session.RouteBuy {
					fmt.Fprintln(c.out, "Run `imagify plans` and `imagify buy <plan>` to add credits.")
				}
				return err
			}
			c.app.Wait()
			fmt.Fprintf(c.out, "Image: %s\n", shorten(res.Image))
			if res.ArchiveURL != "" {
				fmt.Fprintf(c.out, "Archived: %s\n", res.ArchiveURL)
			}
			fmt.Fprintf(c.out, "Credits left: %d\n", c.app.Store.Credits())
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generations stored locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := c.app.Generation.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(c.out, "No generations recorded. History needs MYSQL_DSN.")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tPROMPT\tIMAGE")
			for _, g := range items {
				ref := g.ArchiveURL
				if ref == "" {
					ref = shorten(g.Image)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.CreatedAt.Local().Format("2006-01-02 15:04"), g.Prompt, ref)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}

func (c *cli) plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List credit plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPLAN\tPRICE\tCREDITS")
			for _, p := range c.app.Plans.List() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.ID, p.Description, p.Price, p.Credits)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) buyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <plan>",
		Short: "Buy a credit plan through the hosted checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			serverErr := make(chan error, 1)
			go func() { serverErr <- c.server.Run(ctx) }()

			attempt, err := c.app.Payments.HandlePayment(ctx, args[0])
			if err != nil {
				return err
			}

			select {
			case <-attempt.Done():
			case err := <-serverErr:
				c.app.Payments.Abandon(context.Background())
				return err
			case <-ctx.Done():
				c.app.Payments.Abandon(context.Background())
				return ctx.Err()
			}

			if attempt.Err() != nil {
				return attempt.Err()
			}
			fmt.Fprintf(c.out, "Payment %s. Credits: %d\n", strings.ToLower(attempt.State().String()), c.app.Store.Credits())
			return nil
		},
	}
}

func (c *cli) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Verify payments left unfinished by an earlier session",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Start already ran a pass for the restored session.
			c.app.Wait()
			report, err := c.app.Payments.RecoverPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Attempted: %d, recovered: %d, failed: %d, skipped: %d\n", report.Attempted, report.Recovered, report.Failed, report.Skipped)
			return nil
		},
	}
}

var errNotLoggedIn = errors.New("not logged in, run `imagify login` first")

func shorten(ref string) string {
	const limit = 72
	if len(ref) <= limit {
		return ref
	}
	return ref[:limit] + "…"
}
