// Command webhookd receives payment-provider subscription webhooks and
// reconciles them into the account directory.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/goreconcile/pkg/config"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "webhookd",
	Short:   "Subscription webhook reconciler",
	Long:    `webhookd applies subscription_created and subscription_renewed webhooks to user accounts and sends welcome emails to new customers.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the configured plan catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return printPlans(cmd.OutOrStdout(), cfg.PlanCatalog)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "webhookd %s\n", Version)
	if BuildTime != "unknown" {
		fmt.Fprintf(w, "Built: %s\n", BuildTime)
	}
	if GitCommit != "unknown" {
		fmt.Fprintf(w, "Commit: %s\n", GitCommit)
	}
}

func printPlans(w io.Writer, catalog *reconcile.PlanCatalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tTIER\tMONTHS")
	for _, name := range catalog.Products() {
		plan, err := catalog.Resolve(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", name, plan.Tier, plan.DurationMonths)
	}
	return tw.Flush()
}
