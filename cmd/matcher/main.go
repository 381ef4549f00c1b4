// Command matcher runs the matchmaking service: it consumes search and leave
// requests from the gateways over NATS, pairs waiting participants with FIFO
// fairness, and falls back to an AI partner for long waits.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/aifallback"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/matching"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/messaging"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/metrics"
)

func main() {
	_ = godotenv.Load()

	// Redis connection.
	rdb := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("[matcher] redis connect: %v", err)
	}
	cancel()
	log.Printf("[matcher] connected to redis at %s", rdb.Options().Addr)

	// NATS connection.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = getEnv("NATS_URL", natsConfig.URL)
	natsConfig.Name = "friendfinder-matcher"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("[matcher] nats connect: %v", err)
	}

	// Matching policy, overridable from the environment.
	config := matching.DefaultConfig()
	config.MatchInterval = getEnvDuration("MATCH_INTERVAL", config.MatchInterval)
	config.RelaxAfter = getEnvDuration("RELAX_AFTER", config.RelaxAfter)
	config.FallbackAfter = getEnvDuration("FALLBACK_AFTER", config.FallbackAfter)

	service := matching.NewService(config, rdb, natsClient, aifallback.NewCanned())
	if err := service.Start(); err != nil {
		log.Fatalf("[matcher] start: %v", err)
	}
	log.Printf("[matcher] running (interval=%s relax=%s fallback=%s)",
		config.MatchInterval, config.RelaxAfter, config.FallbackAfter)

	// Metrics endpoint.
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("[matcher] metrics on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[matcher] metrics server: %v", err)
		}
	}()

	// Block until shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[matcher] received signal %v, shutting down", sig)

	service.Stop()
	natsClient.Close()
	_ = rdb.Close()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[matcher] invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("[matcher] invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
