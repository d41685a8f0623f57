package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/warren/internal/admin"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/health"
	"github.com/dyluth/warren/internal/host"
	"github.com/dyluth/warren/internal/partition"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load environment variables
	var env config.DaemonEnv
	if err := config.ParseEnv(&env); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 2. Load warren.yml
	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", env.ConfigPath, err)
		os.Exit(1)
	}
	instanceName := env.InstanceName
	if instanceName == "" {
		instanceName = cfg.Admin.Instance
	}

	// 3. Build the host and load the authority
	h, err := host.New(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	if err := h.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, raw := range env.Partitions {
		key, err := partition.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid WARREN_PARTITIONS entry: %v\n", err)
			os.Exit(1)
		}
		if err := h.PartitionCreated(key); err != nil {
			log.Printf("[Host] Failed to create %s: %v", key, err)
		}
	}

	fmt.Printf("warrend starting for instance '%s' with %d runtime(s)\n", instanceName, len(h.Runtimes()))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Admin channel, if Redis is configured
	var adminClient *admin.Client
	if env.RedisURL != "" {
		redisOpts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
			os.Exit(1)
		}
		adminClient, err = admin.NewClient(redisOpts, instanceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer adminClient.Close()

		if err := adminClient.Ping(runCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Redis not accessible (admin channel disabled): %v\n", err)
		} else {
			go func() {
				if err := admin.NewServer(adminClient, h).Run(runCtx); err != nil {
					log.Printf("[Admin] Stopped: %v", err)
				}
			}()
		}
	} else {
		fmt.Println("REDIS_URL not set, admin channel disabled")
	}

	// 5. Health endpoint
	healthServer := health.NewHealthServer(h, pinger(adminClient))
	if err := healthServer.Start(env.HealthAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 6. Tick until shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var ticks <-chan time.Time
	if env.TickInterval > 0 {
		ticker := time.NewTicker(env.TickInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	last := time.Now()
loop:
	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
			break loop
		case now := <-ticks:
			h.Tick(now.Sub(last))
			last = now
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Health] Shutdown error: %v", err)
	}

	fmt.Println("warrend stopped")
}

// pinger avoids handing the health server a typed nil.
func pinger(c *admin.Client) health.Pinger {
	if c == nil {
		return nil
	}
	return c
}
