// main.go
// FieldTrack API - GPS attendance and geofence monitoring
// Realtime Database backed store, live location streaming, escalating alerts

package main

import (
	"context"
	"fieldtrack/config"
	"fieldtrack/db"
	"fieldtrack/fence"
	"fieldtrack/handlers"
	"fieldtrack/middleware"
	"fieldtrack/rtdb"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// Global instances
var (
	cfg            *config.Config
	store          rtdb.Client
	dataModel      *db.DataModel
	fenceMonitor   *fence.Monitor
	auditLogger    *handlers.AuditLogger
	workerHandler  *handlers.WorkerHandler
	sessionHandler *handlers.SessionHandler
	trackerHandler *handlers.TrackerHandler
	alertHandler   *handlers.AlertHandler
	userHandler    *handlers.UserHandler
	reportHandler  *handlers.ReportHandler
	rateLimiter    *middleware.RateLimiter
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	}

	// Load configuration
	cfg = config.Load()
	cfg.Validate()

	log.Printf("🚀 Starting FieldTrack API Server")
	log.Printf("📍 Environment: %s", cfg.Server.Environment)
	log.Printf("🔧 Port: %s", cfg.Server.Port)

	// Initialize the realtime store
	ctx := context.Background()
	if cfg.UseMemoryStore() {
		store = rtdb.NewMemoryClient()
		log.Printf("⚠️  Using in-memory store, data will not survive restarts")
	} else {
		firebaseStore, err := rtdb.NewFirebaseClient(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath, cfg.Firebase.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to initialize Realtime Database: %v", err)
		}
		store = firebaseStore
		log.Printf("✅ Realtime Database connected (%s)", cfg.Firebase.ProjectID)
	}

	dataModel = db.NewDataModel(store)

	// Initialize geofence monitor
	fenceMonitor = fence.NewMonitor(dataModel, cfg.Fence.Polygon, cfg.Fence.ConfirmDelay)
	log.Printf("🗺️  Geofence monitor initialized (confirm delay: %v)", cfg.Fence.ConfirmDelay)

	// Initialize handlers
	auditLogger = handlers.NewAuditLogger(dataModel)
	workerHandler = handlers.NewWorkerHandler(dataModel)
	sessionHandler = handlers.NewSessionHandler(dataModel, auditLogger)
	trackerHandler = handlers.NewTrackerHandler(dataModel, fenceMonitor, auditLogger)
	alertHandler = handlers.NewAlertHandler(dataModel, auditLogger)
	userHandler = handlers.NewUserHandler(dataModel)
	reportHandler = handlers.NewReportHandler(dataModel)
	log.Printf("✅ Handlers initialized")

	// Initialize rate limiter
	rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	rateLimiter.CleanupOldLimiters()
	log.Printf("🛡️  Rate limiter initialized (%d requests per %v)", cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Set up router
	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)

	// Worker endpoints (phones hitting the kiosk link)
	mux.HandleFunc("/api/worker/register", workerHandler.Register)
	mux.HandleFunc("/api/worker/location", workerHandler.Location)
	mux.HandleFunc("/api/worker/stop", workerHandler.Stop)

	// Session endpoints
	mux.HandleFunc("/api/sessions", sessionHandler.Create)
	mux.HandleFunc("/api/sessions/get", sessionHandler.Get)
	mux.HandleFunc("/api/sessions/clockout", sessionHandler.ClockOut)
	mux.HandleFunc("/api/sessions/user", sessionHandler.ByUser)
	mux.HandleFunc("/api/sessions/locations", workerHandler.Locations)

	// Tracker endpoints
	mux.HandleFunc("/api/trackers", trackerHandler.Create)
	mux.HandleFunc("/api/trackers/get", trackerHandler.Get)
	mux.HandleFunc("/api/trackers/pair", trackerHandler.Pair)
	mux.HandleFunc("/api/trackers/unpair", trackerHandler.Unpair)
	mux.HandleFunc("/api/trackers/fix", trackerHandler.Fix)

	// Alert endpoints
	mux.HandleFunc("/api/alerts/active", alertHandler.Active)
	mux.HandleFunc("/api/alerts/resolve", alertHandler.Resolve)

	// User endpoints
	mux.HandleFunc("/api/users", userHandler.Create)
	mux.HandleFunc("/api/users/get", userHandler.Get)
	mux.HandleFunc("/api/users/update", userHandler.Update)

	// Report endpoints
	mux.HandleFunc("/api/reports/geofence", reportHandler.Get)
	mux.HandleFunc("/api/reports/geofence/export", reportHandler.Export)

	// Apply global middleware
	handler := middleware.CORSMiddleware(cfg.CORS.AllowedOrigins)(mux)
	handler = rateLimiter.Middleware()(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped gracefully")
}

// Health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%d,"version":"1.0.0"}`, time.Now().Unix())
}
