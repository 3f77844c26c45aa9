package setup

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	storage "proofmarket-backend/storage/market"
)

type Dependencies struct {
	Log   *zap.SugaredLogger
	Env   Env
	Store storage.Store
}

type Env struct {
	DatabaseURL   string
	ListenAddr    string
	SweepInterval time.Duration
	SeedDemoData  bool
	Debug         bool
}

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvOrPanic(key string, logger *zap.SugaredLogger) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	logger.Panicf("Could not find env key [%s]", key)
	return ""
}

// Init builds the logger, loads the environment, and connects the store. An
// empty DATABASE_URL selects the in-memory store.
func Init(ctx context.Context, opts ...any) *Dependencies {
	var level *zapcore.Level
	if len(opts) != 0 {
		l := opts[0].(zapcore.Level)
		level = &l
	}
	// Startup
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	if level != nil {
		cfg.Level.SetLevel(*level)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to get logger")
	}
	sugar := logger.Sugar()

	// Env Variables
	if err := godotenv.Load(); err != nil {
		sugar.Infow("no .env file loaded", "error", err)
	}
	DatabaseURL := GetEnv("DATABASE_URL", "")
	ListenAddr := GetEnv("LISTEN_ADDR", ":8080")
	Debug := GetEnv("DEBUG", "0") == "1"
	SeedDemoData := GetEnv("SEED_DEMO_DATA", "0") == "1"

	SweepIntervalMsStr := GetEnv("SWEEP_INTERVAL_MS", "1000")
	SweepIntervalMs, err := strconv.Atoi(SweepIntervalMsStr)
	if err != nil {
		sugar.Error("Failed converting env variable SWEEP_INTERVAL_MS to int")
		SweepIntervalMs = 1000
	}
	sugar.Infof("Running with SWEEP_INTERVAL_MS=%d", SweepIntervalMs)

	if Debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Sampling = nil
		if level != nil {
			cfg.Level.SetLevel(*level)
		}
		logger, err := cfg.Build()
		if err != nil {
			panic("Failed to get logger")
		}
		sugar = logger.Sugar()
	}

	var store storage.Store
	if DatabaseURL == "" {
		sugar.Infow("using in-memory store")
		store = storage.NewMemoryStore(sugar)
	} else {
		pg, err := storage.NewPGStore(ctx, DatabaseURL, sugar)
		if err != nil {
			sugar.Fatalw("failed connecting to postgres", "error", err)
		}
		sugar.Infow("using postgres store")
		store = pg
	}

	return &Dependencies{
		Log:   sugar,
		Store: store,
		Env: Env{
			DatabaseURL:   DatabaseURL,
			ListenAddr:    ListenAddr,
			SweepInterval: time.Duration(SweepIntervalMs) * time.Millisecond,
			SeedDemoData:  SeedDemoData,
			Debug:         Debug,
		},
	}
}
