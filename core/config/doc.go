// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/autonomy/core/config"
//
//	type WorkerConfig struct {
//	    Concurrency int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
//	    PollEvery   time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"100ms"`
//	    DataDir     string        `env:"WORKER_DATA_DIR,required"`
//	}
//
//	func main() {
//	    var cfg WorkerConfig
//
//	    // Load with error handling
//	    if err := config.Load(&cfg); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // Or panic on failure (useful for startup)
//	    config.MustLoad(&cfg)
//	}
//
// The engine and feedback packages ship config structs ready for this loader:
//
//	var engineCfg autonomy.Config
//	config.MustLoad(&engineCfg)
//	engine, err := autonomy.NewFromConfig(engineCfg)
//
//	var feedbackCfg feedback.Config
//	config.MustLoad(&feedbackCfg)
//	sink := feedback.NewFromConfig(feedbackCfg)
//
// # Caching Behavior
//
// Each configuration type is loaded only once per application lifetime:
//
//	var cfg1 autonomy.Config
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 autonomy.Config
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Different types are cached independently:
//
//	// Each type has its own cache entry
//	config.MustLoad(&autonomy.Config{})
//	config.MustLoad(&feedback.Config{})
package config
