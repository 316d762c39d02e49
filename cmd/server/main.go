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
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tutorlane/backend/docs"
	"github.com/tutorlane/backend/internal/config"
	"github.com/tutorlane/backend/internal/database"
	mW "github.com/tutorlane/backend/internal/middleware"
	"github.com/tutorlane/backend/internal/models"
	"github.com/tutorlane/backend/internal/paypal"
	"github.com/tutorlane/backend/internal/services"
	"github.com/tutorlane/backend/migrations"
)

// @title Tutorlane Billing API
// @version 1.0
// @description Invoice and payment ledger for tutoring services
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Tutorlane Billing API"
	docs.SwaggerInfo.Description = "Invoice and payment ledger for tutoring services"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	billing := config.LoadBillingConfig()

	db := database.InitDatabase()
	defer db.Close()

	if err := database.RunMigrations(db, migrations.FS); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway := paypal.New(billing.PayPalClientID, billing.PayPalSecret, billing.PayPalBaseURL, billing.GatewayTimeout)

	authService := services.NewAuthService(db, redisClient)
	invoiceService := services.NewInvoiceService(db, billing)
	paymentService := services.NewPaymentService(db, redisClient, billing)
	paypalService := services.NewPayPalService(db, paymentService, gateway, billing)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/paypal/config", paypalService.GetPayPalConfig)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Invoice endpoints
			r.Get("/invoices", invoiceService.ListInvoices)
			r.Get("/invoices/{id}", invoiceService.GetInvoice)
			r.Get("/invoices/{id}/qr", invoiceService.InvoiceQR)
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin, models.RoleTutor))
				r.Post("/invoices", invoiceService.CreateInvoice)
				r.Put("/invoices/{id}", invoiceService.UpdateInvoice)
				r.Put("/invoices/{id}/status", invoiceService.SetInvoiceStatus)
				r.Delete("/invoices/{id}", invoiceService.DeleteInvoice)
			})

			// Payment endpoints
			r.Get("/payments", paymentService.ListPayments)
			r.Get("/payments/{id}", paymentService.GetPayment)
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin, models.RoleTutor))
				r.Post("/payments", paymentService.CreatePayment)
				r.Post("/payments/{id}/refund", paymentService.RefundPayment)
			})

			// PayPal checkout endpoints
			r.Post("/paypal/orders", paypalService.CreatePayPalOrder)
			r.Post("/paypal/orders/{orderId}/capture", paypalService.CapturePayPalOrder)
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
