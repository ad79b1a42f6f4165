// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"modelrelay/platform/agent/llmclient"
	"modelrelay/platform/agent/toolhost"
	"modelrelay/platform/agent/workflow"
)

// Prometheus metrics
var (
	promChatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_agent_chats_total",
			Help: "Total number of chat requests processed by the agent",
		},
		[]string{"status"},
	)
	promChatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modelrelay_agent_chat_duration_milliseconds",
			Help:    "Chat request duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
)

func init() {
	prometheus.MustRegister(promChatsTotal)
	prometheus.MustRegister(promChatDuration)
}

// observeChat records a completed chat in the Prometheus counters.
func observeChat(err error, durationMs float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	promChatsTotal.WithLabelValues(status).Inc()
	promChatDuration.Observe(durationMs)
}

// Run starts the agent HTTP service.
func Run() {
	log.Println("Starting ModelRelay Agent...")

	cfg := LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gateway := llmclient.NewClient(cfg.GatewayURL)
	if !gateway.IsHealthy(ctx) {
		log.Printf("Warning: gateway at %s is not responding; chats will fail until it is up", cfg.GatewayURL)
	}

	var toolHost workflow.ToolHost
	if cfg.ToolHostURL != "" {
		client := toolhost.NewClient(cfg.ToolHostURL)
		if !client.IsHealthy(ctx) {
			log.Printf("Warning: tool host at %s is not responding", cfg.ToolHostURL)
		}
		toolHost = client
		log.Printf("Tool host: %s", cfg.ToolHostURL)
	} else {
		log.Println("No tool host configured; running without tools")
	}

	handlers := NewAPIHandlers(cfg, gateway, toolHost)

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

	// Chat endpoint
	r.HandleFunc("/api/v1/chat", handlers.ChatHandler).Methods("POST")

	// Metrics endpoint
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Start server
	handler := c.Handler(r)
	log.Printf("ModelRelay Agent listening on port %s (model=%s)", cfg.Port, cfg.DefaultModel)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
