package feedback

import "time"

// Config holds the configuration for the feedback sink. Designed for
// environment-based configuration using popular env parsing libraries.
type Config struct {
	AutoSave        bool          `env:"FEEDBACK_AUTO_SAVE" envDefault:"true"`
	SaveInterval    time.Duration `env:"FEEDBACK_SAVE_INTERVAL" envDefault:"60s"`
	StorageDir      string        `env:"FEEDBACK_STORAGE_DIR" envDefault:"./autonomy_data/feedback"`
	ShutdownTimeout time.Duration `env:"FEEDBACK_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		AutoSave:        true,
		SaveInterval:    60 * time.Second,
		StorageDir:      "./autonomy_data/feedback",
		ShutdownTimeout: 30 * time.Second,
	}
}
