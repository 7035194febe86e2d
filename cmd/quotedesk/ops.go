package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/quotedesk/cmd/quotedesk/cli"
	"github.com/odyssey-erp/quotedesk/internal/app"
	"github.com/odyssey-erp/quotedesk/internal/auth"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/platform/db"
	"github.com/odyssey-erp/quotedesk/internal/quotes"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/jobs"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			return db.Migrate(cfg.PGDSN, cfg.MigrationsDir, steps, app.NewLogger(cfg))
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps to apply; negative rolls back, zero applies all")
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			c, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	var opts cli.TriggerOptions
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a task (" + jobs.TaskTypeIdempotencyCleanup + " or " + jobs.TaskTypeSendEmail + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if opts.Retention == 0 {
				opts.Retention = cfg.IdempotencyTTL
			}
			c, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			info, err := c.Trigger(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return err
		},
	}
	trigger.Flags().DurationVar(&opts.Retention, "retention", 0, "idempotency key retention")
	trigger.Flags().StringVar(&opts.To, "to", "", "email recipient")
	trigger.Flags().StringVar(&opts.Subject, "subject", "Test message", "email subject")
	trigger.Flags().StringVar(&opts.Body, "body", "This is a test message.", "email body")

	cmd.AddCommand(stats, trigger)
	return cmd
}

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "quote", Short: "Manage quotes"}

	importCmd := &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Create quotes from a JSON draft file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			inv := invoices.NewService(invoices.NewRepository(rt.tx), rt.tx, nil, rt.logger)
			svc := quotes.NewService(quotes.NewRepository(rt.tx), rt.tx, inv, rt.logger)
			results, err := cli.ImportQuotes(cmd.Context(), svc, in, rt.cfg.AppBaseURL)
			if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.AddCommand(importCmd)
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Manage roles and permissions"}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the default permission catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rbac.NewService(rbac.NewRepository(rt.tx), rt.tx).SeedPermissions(cmd.Context())
		},
	}

	var role string
	grant := &cobra.Command{
		Use:   "grant <user-id> <permission>...",
		Short: "Assign a role with permissions to a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rbac.NewService(rbac.NewRepository(rt.tx), rt.tx).Grant(cmd.Context(), userID, role, args[1:]...)
		},
	}
	grant.Flags().StringVar(&role, "role", "operator", "role name")

	cmd.AddCommand(seed, grant)
	return cmd
}

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "company", Short: "Show or override seller details"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective company details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd.OutOrStdout(), rt.companyResolver().Details(cmd.Context()))
		},
	}

	set := &cobra.Command{
		Use:   "set <field=value>...",
		Short: "Store overrides for the named fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(args))
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected field=value, got %q", arg)
				}
				values[strings.TrimSpace(k)] = v
			}
			rt, err := openRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()
			d, err := rt.companyResolver().Update(cmd.Context(), values)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var name, password string
	create := &cobra.Command{
		Use:   "create <email>",
		Short: "Create an active customer or operator account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("QUOTEDESK_USER_PASSWORD")
			}
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()
			svc := auth.NewService(auth.NewRepository(rt.tx)).WithCost(rt.cfg.PasswordBcryptCost)
			u, err := svc.Register(cmd.Context(), args[0], name, password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s> at %s\n", u.ID, u.Email, u.CreatedAt.Format(time.RFC3339))
			return err
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&password, "password", "", "password (defaults to $QUOTEDESK_USER_PASSWORD)")

	cmd.AddCommand(create)
	return cmd
}
