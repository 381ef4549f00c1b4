// Command verifier runs the face-verification service: it consumes
// verification submissions from the gateways, classifies them, issues signed
// attestations, schedules periodic challenges for video sessions, and tears
// down sessions that exhaust their warning budget.
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

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/messaging"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/metrics"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/report"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/session"
	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/verify"
)

func main() {
	_ = godotenv.Load()

	secret := os.Getenv("ATTESTATION_SECRET")
	if secret == "" {
		log.Fatal("[verifier] ATTESTATION_SECRET must be set")
	}

	// Redis connection.
	rdb := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("[verifier] redis connect: %v", err)
	}
	cancel()
	log.Printf("[verifier] connected to redis at %s", rdb.Options().Addr)

	// NATS connection.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = getEnv("NATS_URL", natsConfig.URL)
	natsConfig.Name = "friendfinder-verifier"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("[verifier] nats connect: %v", err)
	}

	// Classifier: external HTTP service, or a permissive stub for local
	// development when no service is configured.
	var classifier verify.FaceClassifier
	if url := getEnv("CLASSIFIER_URL", ""); url != "" {
		classifier = verify.NewHTTPClassifier(url, getEnvDuration("CLASSIFIER_TIMEOUT", 5*time.Second))
		log.Printf("[verifier] using classifier at %s", url)
	} else {
		classifier = &verify.StaticClassifier{Judgment: verify.Judgment{FaceDetected: true}}
		log.Println("[verifier] CLASSIFIER_URL not set, all checks pass")
	}

	signer, err := verify.NewAttestationSigner([]byte(secret),
		getEnvDuration("ATTESTATION_TTL", verify.DefaultAttestationTTL), nil)
	if err != nil {
		log.Fatalf("[verifier] attestation signer: %v", err)
	}

	// Optional Postgres audit trail for verification outcomes.
	var recorder verify.EventRecorder
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		db, err := report.Open(dsn)
		if err != nil {
			log.Fatalf("[verifier] postgres connect: %v", err)
		}
		defer db.Close()
		if err := report.RunMigrations(db); err != nil {
			log.Fatalf("[verifier] migrations: %v", err)
		}
		recorder = report.NewStore(db)
		log.Println("[verifier] verification audit trail enabled")
	} else {
		log.Println("[verifier] DATABASE_URL not set, outcomes will not be persisted")
	}

	sessions := session.NewStore(rdb)

	gateConfig := verify.DefaultConfig()
	gateConfig.ConfidenceThreshold = getEnvFloat("CONFIDENCE_THRESHOLD", gateConfig.ConfidenceThreshold)
	gateConfig.MaxWarnings = getEnvInt("MAX_WARNINGS", gateConfig.MaxWarnings)

	gate := verify.NewGate(gateConfig, classifier, signer,
		verify.NewStatusStore(rdb), sessions, natsClient, recorder)
	if err := gate.Start(); err != nil {
		log.Fatalf("[verifier] gate start: %v", err)
	}
	log.Printf("[verifier] gate running (threshold=%.2f max_warnings=%d)",
		gateConfig.ConfidenceThreshold, gateConfig.MaxWarnings)

	// Challenge scheduler for active video sessions.
	ctx, stop := context.WithCancel(context.Background())
	scheduler := verify.NewScheduler(sessions, natsClient,
		getEnvDuration("CHALLENGE_INTERVAL", verify.DefaultChallengeInterval),
		getEnvInt("CHALLENGE_DEADLINE", verify.DefaultChallengeDeadline))
	go scheduler.Run(ctx)

	// Metrics endpoint.
	metricsAddr := getEnv("METRICS_ADDR", ":9092")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("[verifier] metrics on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[verifier] metrics server: %v", err)
		}
	}()

	// Block until shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[verifier] received signal %v, shutting down", sig)

	stop()
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
		log.Printf("[verifier] invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[verifier] invalid %s=%q, using %g", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("[verifier] invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
