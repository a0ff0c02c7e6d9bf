package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quasar_backend/config"
	"quasar_backend/middleware"
	"quasar_backend/models"
	"quasar_backend/routes"
	"quasar_backend/scheduler"
	"quasar_backend/services/adaptors"
	"quasar_backend/services/lifecycle"
	"quasar_backend/services/marketdata"
	"quasar_backend/services/prefs"
	"quasar_backend/services/registry"
	"quasar_backend/services/vault"

	"github.com/gin-gonic/gin"
)

// dbInitialized tracks whether database has been successfully initialized
// so the /ready health endpoint can dynamically check database status
var dbInitialized bool
var dbInitMutex sync.RWMutex

// jobScheduler is assigned by the background init goroutine and read at
// shutdown, so access goes through the mutex
var jobScheduler *scheduler.Scheduler
var jobSchedulerMutex sync.Mutex

func main() {
	log.Println("==============================================")
	log.Println("  Quasar Provider Orchestrator - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up; database is initialized in background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server immediately so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, orchestrator components and routes in background
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Seed default operator
		if err := models.SeedDefaultOperator(config.DB); err != nil {
			log.Printf("Warning: Could not seed operator: %v", err)
		}

		// Initialize global services
		initializeGlobalServices()

		// Wire the orchestrator: registry storage, preference store,
		// credential vault, lifecycle cache
		reg := registry.NewStorage(db)
		prefStore := prefs.NewStore(reg)
		credVault := vault.New(reg)
		cache := lifecycle.NewCache(reg, credVault, prefStore, adaptors.NewFactory())
		credVault.SetInvalidator(cache)

		// Mark database as ready
		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		routes.SetupRoutes(router, db, reg, prefStore, credVault, cache)

		// Start background scheduler
		s := scheduler.NewScheduler(reg, prefStore, cache)
		s.Start()

		jobSchedulerMutex.Lock()
		jobScheduler = s
		jobSchedulerMutex.Unlock()

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	gracefulShutdown(server)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateProviderModels(db); err != nil {
		return err
	}
	if err := models.MigrateOperatorModels(db); err != nil {
		return err
	}
	return nil
}

// initializeGlobalServices initializes global service instances
func initializeGlobalServices() {
	middleware.InitLoginRateLimiter()

	if err := marketdata.InitBarStore(config.AppConfig.BarDBPath); err != nil {
		log.Printf("Warning: Failed to initialize bar store: %v", err)
	}

	// Mongo sink is optional
	if err := marketdata.InitMongoSink(); err != nil {
		log.Printf("MongoDB not configured or failed to connect: %v", err)
	}

	log.Println("Global services initialized")
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Quasar Provider Orchestrator",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	// Startup probe
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests in production
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first. Read it after the signal arrives; background
	// init may still be assigning it when the process starts up.
	jobSchedulerMutex.Lock()
	s := jobScheduler
	jobSchedulerMutex.Unlock()
	if s != nil {
		s.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Close data stores
	if marketdata.GlobalBarStore != nil {
		if err := marketdata.GlobalBarStore.Close(); err != nil {
			log.Printf("Error closing bar store: %v", err)
		}
	}
	marketdata.GlobalMongoSink.Close()

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
