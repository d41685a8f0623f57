package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/admin"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/partition"
	"github.com/dyluth/warren/internal/printer"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	adminInstanceName string
	adminRedisURL     string
	adminTimeout      time.Duration
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload every partition of a running daemon",
	Long: `Ask a running warrend to reload its scripts. The authority reloads first,
recompiling only changed files; every replica then reloads from the cache.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doAdmin(admin.ActionReload)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear a running daemon's bytecode cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and runtime statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doAdmin(admin.ActionStats)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached chunk",
	Long: `Drop every cached chunk, including the persistent store. Running
interpreters are unaffected; the next reload recompiles every script.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doAdmin(admin.ActionClearCache)
	},
}

func init() {
	for _, c := range []*cobra.Command{reloadCmd, cacheCmd} {
		c.PersistentFlags().StringVarP(&adminInstanceName, "name", "n", config.DefaultInstanceName, "Daemon instance name")
		c.PersistentFlags().StringVar(&adminRedisURL, "redis-url", "", "Redis URL (default: $REDIS_URL or redis://localhost:6379)")
		c.PersistentFlags().DurationVar(&adminTimeout, "timeout", 30*time.Second, "How long to wait for the daemon's reply")
	}
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(reloadCmd, cacheCmd)
}

func doAdmin(action admin.Action) error {
	if err := config.ValidateInstanceName(adminInstanceName); err != nil {
		return printer.Error("invalid instance name", err.Error(), nil)
	}

	opts, err := redis.ParseURL(admin.ResolveRedisURL(adminRedisURL))
	if err != nil {
		return printer.Error("invalid Redis URL", err.Error(), nil)
	}

	client, err := admin.NewClient(opts, adminInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return printer.Error(
			"Redis is not reachable",
			err.Error(),
			[]string{"Check --redis-url or REDIS_URL"},
		)
	}

	reply, err := client.Do(ctx, action)
	if err != nil {
		return printer.Error(
			fmt.Sprintf("%s failed", action),
			err.Error(),
			[]string{fmt.Sprintf("Check that warrend is running with WARREN_INSTANCE_NAME=%s", adminInstanceName)},
		)
	}

	printReply(action, reply)
	if !reply.OK {
		return printer.Error(fmt.Sprintf("%s reported errors", action), reply.Error, nil)
	}
	return nil
}

func printReply(action admin.Action, reply *admin.Reply) {
	switch action {
	case admin.ActionReload:
		rows := make([][]string, 0, len(reply.Partitions))
		for _, p := range reply.Partitions {
			status := "ok"
			if !p.OK {
				status = p.Error
			}
			rows = append(rows, []string{
				partition.Key(p.Key).String(),
				fmt.Sprintf("%d/%d/%d/%d", p.Compiled, p.Cached, p.Precompiled, p.Failed),
				status,
			})
		}
		printer.Table([]string{"PARTITION", "COMPILED/CACHED/PRE/FAILED", "STATUS"}, rows)
		if reply.OK {
			printer.Success("Reloaded %d partition(s)\n", len(reply.Partitions))
		}
	case admin.ActionClearCache:
		printer.Success("Cache cleared\n")
	case admin.ActionStats:
		if reply.Cache != nil {
			printer.Table([]string{"ENTRIES", "FAILED", "BYTES", "HITS", "MISSES", "PERSISTED"}, [][]string{{
				fmt.Sprint(reply.Cache.Entries),
				fmt.Sprint(reply.Cache.Failed),
				fmt.Sprint(reply.Cache.Bytes),
				fmt.Sprint(reply.Cache.Hits),
				fmt.Sprint(reply.Cache.Misses),
				fmt.Sprint(reply.Cache.Persisted),
			}})
			printer.Info("\n")
		}
		printRuntimes(reply.Runtimes)
	}
}
