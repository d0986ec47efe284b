// Package server provides the public entry point for initializing the
// propgate gateway: it loads configuration, wires the token store,
// payment gateway and agent client, and returns a ready http.Handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/propgate/propgate/internal/agent"
	"github.com/propgate/propgate/internal/api"
	"github.com/propgate/propgate/internal/api/handlers"
	"github.com/propgate/propgate/internal/config"
	"github.com/propgate/propgate/internal/origin"
	"github.com/propgate/propgate/internal/payment"
	"github.com/propgate/propgate/internal/telemetry"
	"github.com/propgate/propgate/internal/token"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the token store; closed by the caller on shutdown.
	Store token.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the gateway from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var store token.Store
	if cfg.DBPath != "" {
		store, err = token.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open token store: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("sqlite token store opened")
	} else {
		store = token.NewMemoryStore()
		log.Info().Msg("in-memory token store initialized")
	}

	var codec *token.Codec
	if cfg.SigningKey != "" {
		codec, err = token.NewCodec(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("init token codec: %w", err)
		}
	} else if !cfg.AllowDemoFree {
		log.Warn().Msg("no signing key configured and demo-free mode off; chat will be unavailable")
	}

	var gateway payment.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateway, err = payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.PriceID, cfg.Stripe.ProductID)
		if err != nil {
			return nil, fmt.Errorf("init payment gateway: %w", err)
		}
		log.Info().Msg("payment gateway initialized")
	}

	var client *agent.Client
	if cfg.Backend.Account != "" && cfg.Backend.OAuthToken != "" {
		client, err = agent.NewClient(cfg.Backend.Variant, &agent.Backend{
			Account:       cfg.Backend.Account,
			OAuthToken:    cfg.Backend.OAuthToken,
			Database:      cfg.Backend.Database,
			Schema:        cfg.Backend.Schema,
			Warehouse:     cfg.Backend.Warehouse,
			AgentService:  cfg.Backend.AgentService,
			SearchService: cfg.Backend.SearchService,
			SemanticModel: cfg.Backend.SemanticModel,
		})
		if err != nil {
			return nil, fmt.Errorf("init agent client: %w", err)
		}
		log.Info().Str("variant", client.Variant()).Msg("agent client initialized")
	}

	h, err := handlers.New(cfg, store, codec, gateway, client)
	if err != nil {
		return nil, fmt.Errorf("init handlers: %w", err)
	}
	router := api.NewRouter(origin.ParsePolicy(cfg.AllowOrigin), h)

	return &Server{
		Handler:      router,
		Store:        store,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
