package main

import (
	"os"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/lac-hong-legacy/academy_api/middleware"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded, using process environment")
	}

	// Registration order is start order; the HTTP service blocks and goes last.
	svcs := []context.Service{databaseService(), &services.RedisService{}, &services.MonitoringService{}, &services.GeolocationService{}}
	if os.Getenv("MINIO_ENDPOINT") != "" {
		svcs = append(svcs, &services.MinIOService{})
	}
	svcs = append(svcs,
		&services.EmailService{},
		&services.AuditService{},
		&services.RateLimitService{},
		&services.AbuseDetectorService{},
		&services.DDoSService{},
		&services.InputValidator{},
		&services.JWTService{},

		&middleware.AuthMiddleware{},
		&middleware.SecurityMiddleware{},

		&services.HttpService{},
	)

	ctx, err := context.NewCtx(svcs...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure services")
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("Service exited")
		return
	}
}

func databaseService() context.Service {
	if os.Getenv("DB_DRIVER") == "sqlite" {
		return &services.SqliteService{}
	}
	return &services.PostgresService{}
}
