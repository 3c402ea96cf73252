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

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farm2retail/realtime-gateway/internal/api"
	"github.com/farm2retail/realtime-gateway/internal/config"
	"github.com/farm2retail/realtime-gateway/internal/gateway"
	"github.com/farm2retail/realtime-gateway/internal/store"
	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting realtime gateway service",
		logger.Int("port", cfg.Gateway.Port),
		logger.Int("max_connections", cfg.Gateway.MaxConnections),
	)

	// Initialize Redis client
	redisClient, err := store.NewClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	notificationStore := store.NewRedisNotificationStore(redisClient)
	messageStore := store.NewRedisMessageStore(redisClient)

	// Initialize auth manager
	authManager := gateway.NewAuthManager(cfg.Gateway.JWTSecret)

	// Initialize and start hub
	hub := gateway.NewHub(cfg.Gateway)
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start WebSocket hub",
			logger.ErrorField(err),
		)
	}
	defer hub.Stop()

	upgrader := websocket.Upgrader{
		CheckOrigin:     originChecker(cfg.Gateway.AllowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// Set up HTTP server
	router := mux.NewRouter()

	// WebSocket endpoint
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(hub, authManager, &upgrader, w, r, cfg.Gateway)
	})

	// REST side-channel
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(
		mux.MiddlewareFunc(api.RecoveryMiddleware()),
		mux.MiddlewareFunc(api.LoggingMiddleware()),
		mux.MiddlewareFunc(api.CORSMiddleware(cfg.Gateway.AllowedOrigins)),
		mux.MiddlewareFunc(api.RateLimitMiddleware(cfg.Gateway.RateLimitRPS)),
	)
	api.RegisterRoutes(
		apiRouter,
		authManager,
		api.NewPresenceHandler(hub),
		api.NewNotificationHandler(notificationStore, hub),
		api.NewMessageHandler(messageStore, notificationStore, hub),
	)

	// Health check endpoints
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	// Stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      router,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down realtime gateway service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	logger.Info("Realtime gateway service stopped")
}

// originChecker allows websocket upgrades only from the configured origins.
// Requests without an Origin header (CLI clients, service-to-service) are
// allowed through.
func originChecker(allowed []string) func(r *http.Request) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowedSet[origin]
	}
}

// handleWebSocket upgrades an HTTP request to a WebSocket connection and
// hands it to the hub. The connection stays anonymous until the client
// identifies itself with a join event.
func handleWebSocket(hub *gateway.Hub, authManager *gateway.AuthManager, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, cfg config.GatewayConfig) {
	if hub.ConnectionCount() >= cfg.MaxConnections {
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", cfg.MaxConnections),
		)
		http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
		return
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// Browser WebSocket clients cannot set headers, so accept the
		// token as a query parameter too
		if token := r.URL.Query().Get("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}

	var claims *gateway.Claims
	tokenString, err := authManager.ExtractTokenFromHeader(authHeader)
	if err != nil {
		logger.Debug("No token provided, connection stays unauthenticated",
			logger.ErrorField(err),
		)
		claims = &gateway.Claims{}
	} else {
		claims, err = authManager.ValidateToken(tokenString)
		if err != nil {
			logger.Warn("Invalid token, rejecting connection",
				logger.ErrorField(err),
			)
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection",
			logger.ErrorField(err),
		)
		return
	}

	connectionID := uuid.New().String()
	wsConn := gateway.NewConnection(connectionID, conn)
	hub.Register(wsConn)

	logger.Info("WebSocket connection established",
		logger.String("connection_id", connectionID),
		logger.String("token_user_id", claims.UserID),
		logger.String("remote_addr", r.RemoteAddr),
	)
}
