package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Teemukoivumaa/bikeApp/internal/api"
	"github.com/Teemukoivumaa/bikeApp/internal/auth"
	"github.com/Teemukoivumaa/bikeApp/internal/challenge"
	"github.com/Teemukoivumaa/bikeApp/internal/config"
	"github.com/Teemukoivumaa/bikeApp/internal/outbox"
	persistence "github.com/Teemukoivumaa/bikeApp/internal/persistence/postgres"
	"github.com/Teemukoivumaa/bikeApp/internal/strava"
	appsync "github.com/Teemukoivumaa/bikeApp/internal/sync"
	"github.com/Teemukoivumaa/bikeApp/internal/token"
	httptransport "github.com/Teemukoivumaa/bikeApp/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	activities := persistence.NewActivityRepository(pool)
	challenges := persistence.NewChallengeRepository(pool)
	kv := persistence.NewKV(pool)

	client := strava.NewClient(cfg.StravaBaseURL, cfg.StravaClientID, cfg.StravaClientSecret)
	tokens := token.NewManager(kv, client, token.Config{
		AuthorizeURL: cfg.StravaAuthorizeURL,
		ClientID:     cfg.StravaClientID,
		RedirectURI:  cfg.StravaRedirectURI,
		Scope:        cfg.StravaScope,
	})

	engine := challenge.NewEngine(activities, challenges)
	go func() {
		if err := engine.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("challenge engine stopped: %v", err)
		}
	}()

	syncer := appsync.NewSyncer(client, tokens, activities, appsync.Config{
		SportType:   cfg.SportType,
		MaxPages:    cfg.SyncMaxPages,
		PageSize:    cfg.SyncPageSize,
		Concurrency: cfg.SyncConcurrency,
	}, appsync.WithNotifier(engine.Notify))

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	handler := api.NewHandler(tokens, syncer, activities, challenges, engine.Notify)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("bikeapp api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}
