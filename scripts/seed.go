package main

import (
	"context"
	"fieldtrack/config"
	"fieldtrack/db"
	"fieldtrack/models"
	"fieldtrack/rtdb"
	"fmt"
	"log"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg := config.Load()
	cfg.Validate()

	// Initialize the realtime store
	if cfg.UseMemoryStore() {
		log.Fatal("Seeding an in-memory store is pointless, set STORE_BACKEND=firebase")
	}
	ctx := context.Background()
	store, err := rtdb.NewFirebaseClient(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath, cfg.Firebase.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize Realtime Database: %v", err)
	}

	dataModel := db.NewDataModel(store)

	log.Println("🌱 Starting database seeding...")

	if err := seedUsers(ctx, dataModel); err != nil {
		log.Fatalf("Failed to seed users: %v", err)
	}

	if err := seedTrackers(ctx, dataModel); err != nil {
		log.Fatalf("Failed to seed trackers: %v", err)
	}

	sessionID, err := seedSession(ctx, dataModel)
	if err != nil {
		log.Fatalf("Failed to seed session: %v", err)
	}

	log.Println("✅ Database seeding completed successfully!")
	log.Printf("📱 Worker link: https://localhost:5173/worker?session=%s", sessionID)
}

func seedUsers(ctx context.Context, dataModel *db.DataModel) error {
	users := []struct {
		UID  string
		User models.User
	}{
		{
			UID: "user-admin",
			User: models.User{
				Name:    "Site Admin",
				Phone:   "+6590000001",
				Company: "FieldTrack Demo",
				Role:    models.RoleAdmin,
			},
		},
		{
			UID: "user-worker-tan",
			User: models.User{
				Name:    "Tan Wei Ming",
				Phone:   "+6590000002",
				Company: "Acme Construction",
				Role:    models.RoleWorker,
			},
		},
		{
			UID: "user-worker-kumar",
			User: models.User{
				Name:    "Kumar Raj",
				Phone:   "+6590000003",
				Company: "Acme Construction",
				Role:    models.RoleWorker,
			},
		},
	}

	for _, userData := range users {
		if err := dataModel.CreateUser(ctx, userData.UID, userData.User); err != nil {
			return fmt.Errorf("failed to create user %s: %w", userData.UID, err)
		}
		log.Printf("  ✓ Created user: %s (role: %s)", userData.User.Name, userData.User.Role)
	}

	return nil
}

func seedTrackers(ctx context.Context, dataModel *db.DataModel) error {
	trackers := []string{"tracker_demo0001", "tracker_demo0002"}

	for _, trackerID := range trackers {
		if err := dataModel.CreateTracker(ctx, trackerID); err != nil {
			return fmt.Errorf("failed to create tracker %s: %w", trackerID, err)
		}
		log.Printf("  ✓ Created tracker: %s", trackerID)
	}

	// Pair the first tracker to a worker
	user, err := dataModel.GetUser(ctx, "user-worker-tan")
	if err != nil || user == nil {
		return fmt.Errorf("failed to get worker for pairing: %w", err)
	}
	paired := models.PairedUser{
		UID:     "user-worker-tan",
		Name:    user.Name,
		Company: user.Company,
		Role:    user.Role,
	}
	if err := dataModel.PairTrackerToUser(ctx, trackers[0], paired); err != nil {
		return fmt.Errorf("failed to pair tracker: %w", err)
	}
	log.Printf("  ✓ Paired %s to %s", trackers[0], paired.Name)

	return nil
}

func seedSession(ctx context.Context, dataModel *db.DataModel) (string, error) {
	session := models.Session{
		UID:        "user-worker-tan",
		ClockInLat: 1.3592,
		ClockInLng: 103.9894,
		Remarks:    "Seeded demo session",
	}

	sessionID, err := dataModel.CreateSession(ctx, session)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	log.Printf("  ✓ Opened session: %s", sessionID)

	if err := dataModel.UpdateUser(ctx, session.UID, map[string]any{"activeSessionId": sessionID}); err != nil {
		return "", fmt.Errorf("failed to link session to user: %w", err)
	}

	return sessionID, nil
}
