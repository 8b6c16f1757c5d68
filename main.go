package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bot-arena-system/handlers"
	"bot-arena-system/models"
	"bot-arena-system/services"
	"bot-arena-system/utils"
	"bot-arena-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New()

	// CORS configuration, origins loaded from environment
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Match{},
		&models.Bot{},
		&models.BalanceSample{},
		&models.BurnRecord{},
		&models.Winner{},
		&models.User{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	archiveEnabled, err := utils.InitR2()
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if !archiveEnabled {
		log.Println("⚠️  R2 environment not set — settlement report archive disabled")
	}

	// --- Nonce store: Redis when configured, in-memory otherwise ---
	var nonceStore services.NonceStore
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatal("invalid REDIS_URL:", err)
		}
		nonceStore = services.NewRedisNonceStore(redis.NewClient(opts))
		log.Println("✅ Nonce store backed by Redis")
	} else {
		nonceStore = services.NewMemoryNonceStore()
		log.Println("⚠️  REDIS_URL not set — using in-memory nonce store")
	}

	nonceTTL := time.Duration(envInt("NONCE_TTL_SECONDS", 300)) * time.Second
	sampleInterval := time.Duration(envInt("SAMPLE_INTERVAL_SECONDS", 60)) * time.Second

	minBurn := decimal.Zero
	if raw := os.Getenv("MIN_BURN_TO_REGISTER"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			log.Fatal("invalid MIN_BURN_TO_REGISTER:", err)
		}
		minBurn = parsed
	}

	if raw := os.Getenv("PRIZE_SPLITS"); raw != "" {
		splits, err := parseSplits(raw)
		if err != nil {
			log.Fatal("invalid PRIZE_SPLITS:", err)
		}
		services.DefaultPrizeSplits = splits
	}

	if raw := os.Getenv("MAX_BOTS_PER_MATCH"); raw != "" {
		maxBots, err := strconv.Atoi(raw)
		if err != nil || maxBots < 0 {
			log.Fatalf("invalid MAX_BOTS_PER_MATCH: %q", raw)
		}
		services.DefaultMaxBots = maxBots
	}

	// --- Valuation service is mandatory, price feed optional ---
	valuationURL := os.Getenv("VALUATION_SERVICE_URL")
	if valuationURL == "" {
		log.Fatal("VALUATION_SERVICE_URL environment variable not set")
	}
	valuationToken := os.Getenv("VALUATION_SERVICE_TOKEN")
	if valuationToken == "" {
		log.Fatal("VALUATION_SERVICE_TOKEN environment variable not set")
	}
	evaluator := services.NewValuationClient(valuationURL, valuationToken)

	var priceFeed services.PriceFeed
	if feedURL := os.Getenv("PRICE_FEED_URL"); feedURL != "" {
		priceFeed = services.NewPriceFeedClient(feedURL)
	} else {
		log.Println("⚠️  PRICE_FEED_URL not set — prize pools use burn-time native equivalents")
	}

	var archiver services.SettlementArchiver
	if archiveEnabled {
		archiver = utils.R2Archiver{}
	}

	ledger := services.NewGormLedger(db)
	coordinator := services.NewCoordinator(
		services.ActorDeps{
			Ledger:    ledger,
			Evaluator: evaluator,
			Feed:      priceFeed,
			Archiver:  archiver,
		},
		services.ActorConfig{
			SampleInterval:    sampleInterval,
			MinBurnToRegister: minBurn,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Rehydrate(ctx); err != nil {
		log.Fatal("failed to rehydrate match coordinators:", err)
	}

	authService := services.NewAuthService(db, nonceStore, nonceTTL)
	matchService := services.NewMatchService(ledger, coordinator)
	winnerService := services.NewWinnerService(ledger, coordinator)

	// --- Burn verifier polling (skipped when not configured) ---
	if burnClient := workers.NewBurnWatcherClient(db); burnClient != nil {
		go workers.PollBurns(ctx, burnClient, 15*time.Second)
		log.Println("✅ Burn verifier polling running (every 15s)")
	} else {
		log.Println("⚠️  BURN_VERIFIER_URL not set — burn ingestion disabled")
	}

	matchService.StartLifecycleScheduler()

	handlers.SetupAuthRoutes(app, authService)
	handlers.SetupMatchRoutes(app, matchService)
	handlers.SetupAdminRoutes(app, matchService, winnerService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5100"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Match lifecycle scheduler running (every 30s)")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	coordinator.Shutdown()
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Fatalf("invalid %s: %q", key, raw)
	}
	return val
}

func parseSplits(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	splits := make([]int, 0, len(parts))
	total := 0
	for _, part := range parts {
		pct, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if pct <= 0 {
			return nil, strconv.ErrRange
		}
		total += pct
		splits = append(splits, pct)
	}
	if total > 100 {
		return nil, strconv.ErrRange
	}
	return splits, nil
}
