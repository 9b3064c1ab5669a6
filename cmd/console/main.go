// Command schedule-console browses and edits schedules held by the schedule
// service. It drives the same list view state as the web console: pages are
// loaded through the gateway, edits go through the configured persister and
// every outcome is reported as a notification.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-console/internal/config"
	"github.com/t77yq/schedule-console/internal/gateway"
	"github.com/t77yq/schedule-console/internal/listview"
	"github.com/t77yq/schedule-console/internal/model"
)

var (
	// Global flags
	configFile  string
	baseURL     string
	persistMode string
	verbose     bool
	timeout     time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "schedule-console",
	Short: "Browse and edit schedules held by the schedule service",
	Long: `schedule-console talks to the schedule service over HTTP.

Listing, creating, editing and deleting go through the same list view the web
console uses. With console.persist set to "local" (the default) edits are
applied to the loaded page only; set it to "remote" to send them to the service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

// setup loads configuration and applies the global flag overrides
func setup() error {
	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if baseURL != "" {
		loaded.Gateway.BaseURL = baseURL
	}
	if persistMode != "" {
		loaded.Console.Persist = persistMode
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	cfg = loaded

	logCfg := config.LogConfig{Level: "warn"}
	if verbose {
		logCfg = config.LogConfig{Level: "debug", Development: true}
	}
	logger, err = config.NewLogger(logCfg)
	if err != nil {
		return err
	}
	return nil
}

// newClient builds a gateway client from the loaded configuration
func newClient() *gateway.Client {
	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithTimeout(cfg.Gateway.Timeout),
	}
	if cfg.Gateway.Retries > 0 {
		backoff := gateway.DefaultBackoff()
		backoff.InitialDelay = cfg.Gateway.RetryInitialDelay
		backoff.MaxDelay = cfg.Gateway.RetryMaxDelay
		opts = append(opts, gateway.WithRetry(cfg.Gateway.Retries, backoff))
	}
	return gateway.New(cfg.Gateway.BaseURL, opts...)
}

// newController builds the list view over client using the configured persister
func newController(client *gateway.Client) *listview.Controller {
	defaults := model.DefaultQueryParams()
	defaults.PageSize = cfg.Console.PageSize

	opts := []listview.Option{listview.WithDefaultQuery(defaults)}
	if cfg.Console.Persist == config.PersistRemote {
		opts = append(opts, listview.WithPersister(listview.NewRemotePersister(client, logger)))
	}
	return listview.NewController(client, logger, opts...)
}

// commandContext bounds a command by the --timeout flag
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Schedule service base URL (overrides gateway.base_url)")
	rootCmd.PersistentFlags().StringVar(&persistMode, "persist", "", "Persist edits: local or remote (overrides console.persist)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	listCmd.Flags().IntVar(&listPage, "page", model.DefaultPage, "Page to load")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Rows per page (default console.page_size)")
	listCmd.Flags().StringVar(&listSortBy, "sort-by", "", "Sort field, e.g. SCHEDULE_ID or CREATED_AT")
	listCmd.Flags().StringVar(&listSortOrder, "sort-order", "", "Sort order: ASC or DESC")
	listCmd.Flags().StringVar(&listFilter, "filter", "", "Show only loaded rows containing this text")
	listCmd.Flags().StringVar(&listCron, "cron", "", "Only schedules with this cron expression")
	listCmd.Flags().StringVar(&listIDContains, "id-contains", "", "Only schedules whose key contains this text")

	editCmd.Flags().StringVar(&editCron, "cron", "", "New cron expression")
	editCmd.Flags().StringVar(&editRename, "rename", "", "New schedule key")

	deleteCmd.Flags().IntVar(&deletePage, "page", model.DefaultPage, "Page holding the keys")
	deleteCmd.Flags().IntVar(&deletePageSize, "page-size", 0, "Rows per page (default console.page_size)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cronsCmd)
	rootCmd.AddCommand(idsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
