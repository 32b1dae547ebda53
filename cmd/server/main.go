package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/3O98/pgp-based-communication-app/internal/config"
	"github.com/3O98/pgp-based-communication-app/internal/directory"
	"github.com/3O98/pgp-based-communication-app/internal/handler"
	"github.com/3O98/pgp-based-communication-app/internal/middleware"
	"github.com/3O98/pgp-based-communication-app/internal/presence"
	"github.com/3O98/pgp-based-communication-app/internal/relay"
	"github.com/3O98/pgp-based-communication-app/internal/store"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Store-and-forward relay server for end-to-end encrypted messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.ListenAddr = listen
			}
			if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
				cfg.DBPath = dbPath
			}
			return run(cfg)
		},
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().String("listen", "", "listen address (overrides config)")
	rootCmd.Flags().String("db", "", "database path (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	st := store.Open(cfg.DBPath)
	defer st.Close()

	handler.SetAllowedOrigins(cfg.AllowedOrigins)

	registry := presence.NewRegistry()
	engine := relay.NewEngine(st, registry)
	dir := directory.NewService(st)

	api := &handler.APIHandler{Relay: engine, Directory: dir, Store: st}
	ws := handler.NewWSHandler(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit.PerMinute, time.Minute)
	if len(cfg.TrustedProxies) > 0 {
		limiter.SetTrustedProxies(cfg.TrustedProxies)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.Health)
	mux.HandleFunc("POST /api/users", limiter.Middleware(http.HandlerFunc(api.Register)).ServeHTTP)
	mux.HandleFunc("GET /api/users", api.ListUsers)
	mux.HandleFunc("GET /api/users/{identity}", api.LookupUser)
	mux.HandleFunc("POST /api/messages", limiter.Middleware(http.HandlerFunc(api.SubmitMessage)).ServeHTTP)
	mux.HandleFunc("GET /api/history", api.History)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket)

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     bodyLimitMiddleware(loggingMiddleware(mux)),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Relay server starting", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

const maxBodySize = 256 * 1024

func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}
