package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/quotedesk/internal/app"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	root := &cobra.Command{
		Use:           "quotedesk",
		Short:         "Quote acceptance, invoicing and payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(quoteCmd())
	root.AddCommand(rbacCmd())
	root.AddCommand(companyCmd())
	root.AddCommand(userCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
