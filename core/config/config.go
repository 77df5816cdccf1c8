package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cache   sync.Map // reflect.Type -> loaded config value
	envOnce sync.Once
)

// Load parses environment variables into cfg using `env` struct tags. The
// first call for a given type parses the environment; later calls return the
// cached value, so every caller observes identical configuration.
//
// A .env file in the working directory is loaded into the process
// environment once, before the first parse. Real environment variables take
// precedence over .env values.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target cannot be nil")
	}

	envOnce.Do(func() {
		// A missing .env file is the normal case outside local development.
		_ = godotenv.Load()
	})

	key := reflect.TypeOf(*cfg)
	if cached, ok := cache.Load(key); ok {
		*cfg = cached.(T)
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", key, err)
	}

	// Another goroutine may have parsed the same type concurrently; keep
	// whichever value landed first so all callers agree.
	actual, _ := cache.LoadOrStore(key, *cfg)
	*cfg = actual.(T)

	return nil
}

// MustLoad is Load that panics on failure, for use during startup where a
// missing required variable should stop the process.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
