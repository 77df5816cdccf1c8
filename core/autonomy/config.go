package autonomy

import "time"

// Config holds the configuration for the engine and its dispatcher, scheduler,
// policy gate, and storage components. Designed for environment-based
// configuration using popular env parsing libraries.
type Config struct {
	// Policy configuration
	Level               string   `env:"AUTONOMY_LEVEL" envDefault:"supervised"`
	RequireApprovalNew  bool     `env:"AUTONOMY_REQUIRE_APPROVAL_NEW_TASKS" envDefault:"true"`
	RequireApprovalMod  bool     `env:"AUTONOMY_REQUIRE_APPROVAL_MODIFIED_TASKS" envDefault:"true"`
	RequireApprovalRisk bool     `env:"AUTONOMY_REQUIRE_APPROVAL_HIGH_RISK" envDefault:"true"`
	EnableSafetyChecks  bool     `env:"AUTONOMY_ENABLE_SAFETY_CHECKS" envDefault:"true"`
	RestrictedActions   []string `env:"AUTONOMY_RESTRICTED_ACTIONS" envSeparator:","`

	// Dispatcher configuration
	MaxConcurrentTasks int           `env:"AUTONOMY_MAX_CONCURRENT_TASKS" envDefault:"5"`
	PollInterval       time.Duration `env:"AUTONOMY_POLL_INTERVAL" envDefault:"100ms"`
	ShutdownTimeout    time.Duration `env:"AUTONOMY_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Retry configuration
	DefaultMaxRetries int8          `env:"AUTONOMY_DEFAULT_MAX_RETRIES" envDefault:"3"`
	DefaultRetryDelay time.Duration `env:"AUTONOMY_DEFAULT_RETRY_DELAY" envDefault:"5s"`

	// Scheduler configuration
	CheckInterval time.Duration `env:"AUTONOMY_SCHEDULER_CHECK_INTERVAL" envDefault:"1s"`

	// Storage configuration
	Persistence  bool          `env:"AUTONOMY_PERSISTENCE" envDefault:"true"`
	StorageDir   string        `env:"AUTONOMY_STORAGE_DIR" envDefault:"./autonomy_data"`
	SaveInterval time.Duration `env:"AUTONOMY_TASK_SAVE_INTERVAL" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Level:               "supervised",
		RequireApprovalNew:  true,
		RequireApprovalMod:  true,
		RequireApprovalRisk: true,
		EnableSafetyChecks:  true,
		MaxConcurrentTasks:  5,
		PollInterval:        100 * time.Millisecond,
		ShutdownTimeout:     30 * time.Second,
		DefaultMaxRetries:   3,
		DefaultRetryDelay:   5 * time.Second,
		CheckInterval:       time.Second,
		Persistence:         true,
		StorageDir:          "./autonomy_data",
		SaveInterval:        30 * time.Second,
	}
}
