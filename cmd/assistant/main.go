package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medquery/assistant/internal/api"
	"github.com/medquery/assistant/internal/audit"
	"github.com/medquery/assistant/internal/dispatch"
	"github.com/medquery/assistant/internal/records"
	"github.com/medquery/assistant/internal/session"
	"github.com/medquery/assistant/internal/shared/auth"
	"github.com/medquery/assistant/internal/shared/config"
	"github.com/medquery/assistant/internal/shared/database"
	"github.com/medquery/assistant/internal/shared/metrics"
	secmiddleware "github.com/medquery/assistant/internal/shared/middleware"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Bedrock.Region))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	dispatcher := dispatch.NewDispatcher(
		bedrockruntime.NewFromConfig(awsCfg),
		bedrockagentruntime.NewFromConfig(awsCfg),
		cfg.Bedrock,
	)

	repo := records.NewRepository(db.Pool, cfg.Records)
	recorder := audit.NewRecorder(db.Pool)
	service := session.NewService(repo, dispatcher, recorder, cfg.Bedrock.ModelARN)
	handler := api.NewHandler(service, recorder, db.Health)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.BodyLimit)
	r.Use(secmiddleware.CORS)
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", handler.Health)
	r.Get("/ready", handler.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(auth.Middleware(cfg.Auth))
		}
		r.Mount("/", handler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 125 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Healthcare RAG Assistant")
	fmt.Println("============================================")
	fmt.Printf("Environment:     %s\n", cfg.Server.Env)
	fmt.Printf("Server:          http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Query API:       http://localhost:%d/api/query\n", cfg.Server.Port)
	fmt.Printf("Health:          http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("AWS Region:      %s\n", cfg.Bedrock.Region)
	fmt.Printf("Knowledge Base:  %s\n", cfg.Bedrock.KnowledgeBaseID)
	fmt.Printf("Auth:            %v\n", cfg.Auth.Enabled)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Healthcare RAG Assistant",
		"version": "0.1.0",
		"docs":    "/api/query",
	})
}
