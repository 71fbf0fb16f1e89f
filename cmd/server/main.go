package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/pansapay/backend/internal/config"
	"github.com/pansapay/backend/internal/database"
	"github.com/pansapay/backend/internal/handlers"
	mW "github.com/pansapay/backend/internal/middleware"
	"github.com/pansapay/backend/internal/notify"
	"github.com/pansapay/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	depositCfg := config.LoadDepositConfig()
	listenerCfg := config.LoadListenerConfig()
	adminCfg := config.LoadAdminConfig()

	if listenerCfg.APIKey == "" {
		log.Println("Warning: LISTENER_API_KEY not set, webhook listener will reject all callbacks")
	}
	if adminCfg.JWTSecret == "" {
		log.Println("Warning: ADMIN_JWT_SECRET not set, operator endpoints will reject all tokens")
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if adminCfg.NotifyURL != "" {
		notifier = notify.NewWebhookNotifier(db, adminCfg.NotifyURL)
	}

	depositService := services.NewDepositService(db, redisClient, depositCfg, notifier)
	ledgerService := services.NewLedgerService(db)
	templateService := services.NewTemplateService(db, depositCfg.Template)
	listenerService := services.NewListenerService(db, depositService, depositCfg)
	operatorService := services.NewOperatorService(depositService)

	depositHandler := handlers.NewDepositHandler(depositService, ledgerService)
	webhookHandler := handlers.NewWebhookHandler(listenerService, listenerCfg.APIKey)
	adminHandler := handlers.NewAdminHandler(operatorService, depositService, templateService)

	auth := mW.NewAuth(db, redisClient, adminCfg.JWTSecret)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Static file server for payment channel logos
	r.Handle("/static/channel-logos/*", http.StripPrefix("/static/channel-logos/",
		mW.StaticFileServer("./static/channel-logos")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Payment provider callback, authenticated by shared secret inside
		// the handler so nothing is persisted before the check.
		r.Post("/qris/listener", webhookHandler.Listen)

		// User channel
		r.Group(func(r chi.Router) {
			r.Use(auth.UserAuth)

			r.Post("/deposits", depositHandler.Create)
			r.Get("/deposits", depositHandler.List)
			r.Get("/deposits/{depositId}", depositHandler.Get)
			r.Get("/mutations", depositHandler.Mutations)
		})

		// Operator channel
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AdminAuth)

			r.Get("/deposits", adminHandler.ListDeposits)
			r.Post("/deposits/{depositId}/confirm", adminHandler.Confirm)
			r.Post("/deposits/{depositId}/reject", adminHandler.Reject)

			r.Post("/templates", adminHandler.AddTemplate)
			r.Get("/templates", adminHandler.ListTemplates)
			r.Delete("/templates/{id}", adminHandler.DeleteTemplate)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
