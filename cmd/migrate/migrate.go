package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"learning-coach-platform/internal/config"
	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  up      - Create tables, vector extension and indexes for STORE_DRIVER")
		fmt.Println("  status  - Print document counts by status")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectTimeout*3)
	defer cancel()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer store.Close(context.Background())

	switch command {
	case "up":
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migration completed successfully for %s store\n", cfg.StoreDriver)

	case "status":
		if err := printStatus(ctx, store); err != nil {
			log.Fatalf("Status failed: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, store database.Store) error {
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return err
	}

	statuses := []string{models.StatusUploaded, models.StatusProcessing, models.StatusReady, models.StatusFailed}
	for status := range counts {
		known := false
		for _, s := range statuses {
			known = known || s == status
		}
		if !known {
			statuses = append(statuses, status)
		}
	}
	sort.Strings(statuses[4:])

	total := 0
	for _, status := range statuses {
		fmt.Printf("  %-12s %d\n", status+":", counts[status])
		total += counts[status]
	}
	fmt.Printf("  %-12s %d\n", "total:", total)
	return nil
}
