package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/testcontainers/testcontainers-go"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"
	redisTC "github.com/testcontainers/testcontainers-go/modules/redis"

	"referralbot/internal/app"
)

func main() {
	ctx := context.Background()

	log.Println("Starting Postgres testcontainer...")
	pgContainer, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("referralbot"),
		postgresTC.WithUsername("referralbot"),
		postgresTC.WithPassword("devpassword"),
		postgresTC.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer terminate("Postgres", pgContainer)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get Postgres connection string: %v", err)
	}

	log.Println("Starting Redis testcontainer...")
	redisContainer, err := redisTC.Run(ctx, "redis:7-alpine")
	if err != nil {
		log.Fatalf("Failed to start Redis container: %v", err)
	}
	defer terminate("Redis", redisContainer)

	redisURI, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("Failed to get Redis connection string: %v", err)
	}

	// Set environment variables for the application
	os.Setenv("DATABASE_URL", dsn)
	os.Setenv("DB_AUTO_MIGRATE", "true")
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("REDIS_ADDR", strings.TrimPrefix(redisURI, "redis://"))
	os.Setenv("WEBHOOK_MODE", "false")
	os.Setenv("DEBUG", "true")

	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN not set. Please set it in your .env file or environment.")
	}
	if os.Getenv("OPERATOR_PASSWORD") == "" {
		log.Println("⚠️  OPERATOR_PASSWORD not set. Please set it in your .env file or environment.")
	}

	log.Println("Starting application with Postgres and Redis backends...")
	fmt.Println()

	application, err := app.New()
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	// Run blocks until SIGINT or SIGTERM
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}

func terminate(name string, container testcontainers.Container) {
	log.Printf("Stopping %s container...", name)
	if err := testcontainers.TerminateContainer(container); err != nil {
		log.Printf("Failed to terminate %s container: %v", name, err)
	}
}
