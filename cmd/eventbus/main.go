// Package main runs an event bus node.
//
// Usage:
//
//	eventbus serve --config ./configs/config.local.yaml
//	eventbus dead-letters 1780512345678901248
//
// Application metadata is read from APP_ENV, APP_SERVICE_NAME,
// APP_SERVICE_VERSION and APP_NODE_ID.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/cluster"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/Sokol111/ecommerce-eventbus/pkg/modules"
	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:     "eventbus",
		Short:   "Run and inspect an event bus node",
		Long:    `eventbus delivers domain events from a Mongo outbox to subscribers on every node of the cluster.`,
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Config file (defaults to CONFIG_FILE)")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newDeadLettersCmd(flags))

	return rootCmd
}

func (f *rootFlags) coreOptions() []core.Option {
	if f.configFile == "" {
		return nil
	}
	return []core.Option{core.WithConfigFile(f.configFile)}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		withoutRedis    bool
		withoutRecovery bool
		withoutHTTP     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node until interrupted",
		Long: `Run the node until interrupted.

The node recovers undelivered outbox entries of its shards, broadcasts new
entries to the cluster and delivers received events to local subscriptions.

Example:
  eventbus serve --config ./configs/config.local.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var persistenceOpts []modules.PersistenceOption
			if withoutRedis {
				persistenceOpts = append(persistenceOpts, modules.WithoutRedis())
			}
			var busOpts []eventbus.Option
			if withoutRecovery {
				busOpts = append(busOpts, eventbus.WithoutRecovery())
			}

			nodeOpts := []modules.NodeOption{
				modules.WithCoreOptions(flags.coreOptions()...),
				modules.WithPersistenceOptions(persistenceOpts...),
				modules.WithEventBusOptions(busOpts...),
			}
			if withoutHTTP {
				nodeOpts = append(nodeOpts, modules.WithoutHTTP())
			}

			app := fx.New(modules.NewNodeModule(nodeOpts...))
			if err := app.Err(); err != nil {
				return fmt.Errorf("failed to build node: %w", err)
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withoutRedis, "without-redis", false, "Keep dedup state in memory only")
	cmd.Flags().BoolVar(&withoutRecovery, "without-recovery", false, "Skip startup recovery")
	cmd.Flags().BoolVar(&withoutHTTP, "without-http", false, "Do not serve the health endpoints")

	return cmd
}

func newDeadLettersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters <eventId>",
		Short: "Print dead-letter records of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetters(cmd, flags, args[0])
		},
	}
}

func runDeadLetters(cmd *cobra.Command, flags *rootFlags, rawID string) error {
	id, err := event.ParseID(rawID)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", rawID, err)
	}

	var store outbox.DeadLetterStore
	app := fx.New(
		core.NewCoreModule(flags.coreOptions()...),
		mongo.NewMongoModule(),
		cluster.NewClusterModule(),
		outbox.NewOutboxModule(),
		fx.Populate(&store),
	)

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = app.Stop(context.WithoutCancel(ctx)) }()

	records, err := store.Find(ctx, id.String())
	if err != nil {
		return fmt.Errorf("failed to find dead letters: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no dead letters for event %s\n", id)
		return nil
	}

	out, err := sonic.ConfigStd.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dead letters: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
