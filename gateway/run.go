// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"modelrelay/platform/common/usage"
	"modelrelay/platform/gateway/cache"
	"modelrelay/platform/gateway/llm"
	"modelrelay/platform/gateway/secrets"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_gateway_requests_total",
			Help: "Total number of generate requests processed by the gateway",
		},
		[]string{"model", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrelay_gateway_request_duration_milliseconds",
			Help:    "Generate request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"model"},
	)
	promCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_gateway_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)
	promProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_gateway_provider_errors_total",
			Help: "Provider call failures by error code",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promCacheLookups)
	prometheus.MustRegister(promProviderErrors)
}

// observeRequest records a completed dispatch in the Prometheus counters.
func observeRequest(model string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	promRequestsTotal.WithLabelValues(model, status).Inc()
	promRequestDuration.WithLabelValues(model).Observe(float64(elapsed.Milliseconds()))
}

// Run starts the gateway HTTP service. Fatal on any wiring failure;
// a gateway that cannot register its catalog should not come up.
func Run() {
	log.Println("Starting ModelRelay Gateway...")

	cfg := LoadConfig()
	ctx := context.Background()

	// Secrets resolution for api_key_secret_arn references.
	var resolver secrets.Resolver
	var err error
	if cfg.SecretsBackend == "aws" {
		region := cfg.BedrockRegion
		if region == "" {
			region = "us-east-1"
		}
		resolver, err = secrets.NewAWSResolver(ctx, region)
		if err != nil {
			log.Fatalf("Failed to initialize secrets resolver: %v", err)
		}
	} else {
		resolver = secrets.EnvResolver{}
	}

	if err := RegisterBuiltinFactories(nil, resolver); err != nil {
		log.Fatalf("Failed to register provider factories: %v", err)
	}

	// Optional Postgres persistence for model configs and usage rows.
	var registryOpts []llm.RegistryOption
	var recorder *usage.Recorder
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		storage := llm.NewPostgresStorage(db)
		if err := storage.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure database schema: %v", err)
		}
		registryOpts = append(registryOpts, llm.WithStorage(storage))
		recorder = usage.NewRecorder(db)
		log.Println("Postgres persistence enabled")
	}

	registry := llm.NewRegistry(registryOpts...)

	if err := RegisterModels(ctx, registry, BuiltinModelConfigs(cfg)); err != nil {
		log.Fatalf("Failed to register built-in models: %v", err)
	}
	if cfg.ModelsConfigPath != "" {
		manifest, err := LoadModelsManifest(cfg.ModelsConfigPath)
		if err != nil {
			log.Fatalf("Failed to load models manifest: %v", err)
		}
		if err := RegisterModels(ctx, registry, manifest); err != nil {
			log.Fatalf("Failed to register manifest models: %v", err)
		}
	}
	if cfg.DatabaseURL != "" {
		if loaded, err := registry.LoadFromStorage(ctx); err != nil {
			log.Printf("Warning: failed to load stored models: %v", err)
		} else if loaded > 0 {
			log.Printf("Loaded %d model(s) from storage", loaded)
		}
	}
	log.Printf("Model catalog: %v", registry.Models())

	// Response cache.
	var responseCache *cache.ResponseCache
	if cfg.CacheEnabled {
		var store cache.Store
		if cfg.CacheBackend == "redis" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			if err := client.Ping(ctx).Err(); err != nil {
				log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
			}
			store = cache.NewRedisStore(client, cfg.CacheTTL)
		} else {
			store = cache.NewMemoryStore(cfg.CacheMaxEntries, cfg.CacheTTL)
		}
		responseCache = cache.New(store, true)
		log.Printf("Response cache enabled (backend=%s, ttl=%s)", store.Name(), cfg.CacheTTL)
	}

	opts := []Option{WithMetrics(NewMetricsCollector())}
	if responseCache != nil {
		opts = append(opts, WithCache(responseCache))
	}
	if recorder != nil {
		opts = append(opts, WithUsageRecorder(recorder))
	}
	gw := New(registry, opts...)
	handlers := NewAPIHandlers(gw)

	// Setup router
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	// Generation and discovery
	r.HandleFunc("/api/v1/generate", handlers.GenerateHandler).Methods("POST")
	r.HandleFunc("/api/v1/models", handlers.ModelsHandler).Methods("GET")

	// Metrics and cache administration
	r.HandleFunc("/api/v1/metrics", handlers.MetricsHandler).Methods("GET")
	r.HandleFunc("/api/v1/metrics/reset", handlers.MetricsResetHandler).Methods("POST")
	r.HandleFunc("/api/v1/cache/stats", handlers.CacheStatsHandler).Methods("GET")
	r.HandleFunc("/api/v1/cache/clear", handlers.CacheClearHandler).Methods("POST")

	// Metrics endpoints
	r.HandleFunc("/metrics", handlers.MetricsHandler).Methods("GET") // JSON metrics (legacy)
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")       // Prometheus native format

	// Start server
	handler := c.Handler(r)
	log.Printf("ModelRelay Gateway listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
