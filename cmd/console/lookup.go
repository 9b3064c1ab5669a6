package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/t77yq/schedule-console/internal/model"
	"github.com/t77yq/schedule-console/internal/scheduler"
)

var cronsCmd = &cobra.Command{
	Use:   "crons",
	Short: "List the distinct cron expressions in use",
	Args:  cobra.NoArgs,
	RunE:  runCrons,
}

var idsCmd = &cobra.Command{
	Use:   "ids",
	Short: "List every schedule key",
	Args:  cobra.NoArgs,
	RunE:  runIDs,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the service health snapshot",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream schedule events from NATS",
	Long: `Subscribe to the schedule event stream and print saved, deleted and fired
events as they arrive. Requires the service to publish to JetStream
(nats.enabled) and uses nats.url from the configuration.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runCrons(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	resp, err := newClient().DistinctCronExpressions(ctx)
	if err != nil {
		return err
	}
	for _, expr := range resp.Data {
		fmt.Fprintln(cmd.OutOrStdout(), expr)
	}
	return nil
}

func runIDs(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	resp, err := newClient().ScheduleIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range resp.Data {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	resp, err := newClient().Health(ctx)
	if err != nil {
		return err
	}
	printHealth(cmd.OutOrStdout(), resp.Data)
	return nil
}

// runWatch ignores --timeout and runs until interrupted
func runWatch(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.App.Name+"-console"),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	events, err := scheduler.NewJetStreamPublisher(js, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	err = events.Subscribe(ctx, func(event model.ScheduleEvent) {
		printEvent(out, event)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "watching schedule events on %s\n", nc.ConnectedUrl())
	<-ctx.Done()
	return nil
}
