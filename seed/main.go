package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lac-hong-legacy/academy_api/seed/seeders"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/lac-hong-legacy/academy_api/shared"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var (
		seedType = flag.String("type", "all", "Type of seeding: all, rate-limits, admin-token")
		driver   = flag.String("driver", "", "Database driver: sqlite or postgres (overrides DB_DRIVER)")
		dsn      = flag.String("db", "", "SQLite path or Postgres DSN (overrides DB_DATABASE / DATABASE_URL)")
		adminID  = flag.String("admin-id", "admin", "Subject of the generated admin token")
		email    = flag.String("admin-email", "admin@academy.local", "Email claim of the generated admin token")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch *seedType {
	case "admin-token":
		printAdminToken(*adminID, *email)
		return
	case "all", "rate-limits":
	default:
		log.Fatalf("Unknown seed type: %s. Use 'all', 'rate-limits' or 'admin-token'", *seedType)
	}

	db, err := openDatabase(*driver, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	mainSeeder := seeders.NewMainSeeder(db)
	if *seedType == "rate-limits" {
		log.Println("Seeding rate limit configs only...")
		err = mainSeeder.SeedRateLimitsOnly(ctx)
	} else {
		log.Println("Running complete database seeding...")
		err = mainSeeder.SeedAll(ctx)
	}
	if err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	if *seedType == "all" && os.Getenv("JWT_SECRET") != "" {
		printAdminToken(*adminID, *email)
	}

	log.Println("Seeding operation completed successfully!")
}

func openDatabase(driver, dsn string) (*gorm.DB, error) {
	if driver == "" {
		driver = os.Getenv("DB_DRIVER")
	}
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	if driver == "sqlite" {
		if dsn == "" {
			dsn = os.Getenv("DB_DATABASE")
		}
		if dsn == "" {
			dsn = "academy.db"
		}
		log.Printf("Connecting to sqlite database: %s", dsn)
		return gorm.Open(sqlite.Open(dsn), config)
	}

	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			envOr("DB_HOST", "localhost"), envOr("DB_PORT", "5432"), envOr("DB_USER", "postgres"),
			os.Getenv("DB_PASSWORD"), envOr("DB_NAME", "academy_api"), envOr("DB_SSLMODE", "disable"))
	}
	log.Println("Connecting to postgres database")
	return gorm.Open(postgres.Open(dsn), config)
}

func printAdminToken(adminID, email string) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required to generate an admin token")
	}

	jwtSvc := services.NewJWTService(secret, 24*time.Hour)
	pair, err := jwtSvc.IssueTokenPair(adminID, email, shared.RoleAdmin)
	if err != nil {
		log.Fatalf("Failed to generate admin token: %v", err)
	}
	log.Printf("Admin bearer token (expires in %ds): %s", pair.ExpiresIn, pair.AccessToken)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func showHelp() {
	log.Println(`
Database Seeding Tool for the Academy API security core

Usage: go run ./seed [flags]

Flags:
  -type string
        Type of seeding to perform (default "all")
        Options: all, rate-limits, admin-token
  -driver string
        sqlite or postgres (overrides DB_DRIVER)
  -db string
        SQLite path or Postgres DSN
  -admin-id string
        Subject of the generated admin token (default "admin")
  -admin-email string
        Email claim of the generated admin token
  -help
        Show this help message

Examples:
  # Seed rate limit configs into the local sqlite database
  go run ./seed -driver=sqlite -type=rate-limits

  # Print an admin bearer token for the admin API
  go run ./seed -type=admin-token

Environment Variables:
  DB_DRIVER, DB_DATABASE, DATABASE_URL, DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, JWT_SECRET
`)
}
