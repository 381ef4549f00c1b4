// Command wsserver runs the WebSocket gateway: it terminates client
// connections, routes protocol messages, and bridges them to the matcher and
// verifier services over NATS.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/chat"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/messaging"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/presence"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/ratelimit"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/report"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/signaling"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/userstate"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/ws"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	serverName := getEnv("SERVER_NAME", "gateway-1")
	listenAddr := getEnv("LISTEN_ADDR", ":8080")

	// Redis connection.
	rdb := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("[gateway] redis connect: %v", err)
	}
	cancel()
	log.Printf("[gateway] connected to redis at %s", rdb.Options().Addr)

	// NATS connection.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = getEnv("NATS_URL", natsConfig.URL)
	natsConfig.Name = "friendfinder-" + serverName
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("[gateway] nats connect: %v", err)
	}

	users := userstate.NewStore(rdb, serverName)
	sessions := session.NewStore(rdb)

	// Optional Postgres for abuse reports. Without it, reports still end
	// the session but are not persisted.
	var reports *report.Store
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		db, err := report.Open(dsn)
		if err != nil {
			log.Fatalf("[gateway] postgres connect: %v", err)
		}
		defer db.Close()
		if err := report.RunMigrations(db); err != nil {
			log.Fatalf("[gateway] migrations: %v", err)
		}
		reports = report.NewStore(db)
		log.Println("[gateway] report persistence enabled")
	} else {
		log.Println("[gateway] DATABASE_URL not set, reports will not be persisted")
	}

	g := &gateway{
		nats:     natsClient,
		users:    users,
		sessions: sessions,
		chats:    chat.NewStore(rdb),
		relay:    signaling.NewRelay(sessions, natsClient),
		limiter:  ratelimit.NewLimiter(rdb),
		presence: presence.NewTracker(getEnvDuration("PRESENCE_FRESHNESS", presence.DefaultFreshness), nil),
		buffer:   chat.NewSnapshotBuffer(),
		reports:  reports,
	}

	dispatcher := ws.NewMessageDispatcher(nil)
	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = listenAddr
	serverConfig.WorkerPoolSize = getEnvInt("WORKER_POOL_SIZE", serverConfig.WorkerPoolSize)
	serverConfig.MaxConnections = getEnvInt("MAX_CONNECTIONS", serverConfig.MaxConnections)

	server := ws.NewServer(serverConfig, users, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	g.server = server
	server.SetOnDisconnect(g.onDisconnect)

	g.registerHandlers(dispatcher)
	g.watchPresence()

	// Sweep presence periodically so online connections drift to away
	// without any inbound traffic.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				g.presence.Sweep()
			}
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[gateway] received signal %v, shutting down", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("[gateway] shutdown error: %v", err)
		}
		natsClient.Close()
		_ = rdb.Close()
		os.Exit(0)
	}()

	log.Printf("[gateway] %s starting on %s", serverName, listenAddr)
	if err := server.Start(); err != nil {
		log.Fatalf("[gateway] server error: %v", err)
	}
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
		log.Printf("[gateway] invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("[gateway] invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
