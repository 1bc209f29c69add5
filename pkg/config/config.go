package config

// Config is the engine configuration. Values load from struct defaults and
// may be overridden by CONDUCTOR_* environment variables.
type Config struct {
	Task     TaskConfig     `koanf:"task"     validate:"required"`
	Workflow WorkflowConfig `koanf:"workflow" validate:"required"`
	Queue    QueueConfig    `koanf:"queue"    validate:"required"`
	Payload  PayloadConfig  `koanf:"payload"  validate:"required"`
}

type TaskConfig struct {
	// RequeueTimeout is the staleness threshold, in milliseconds, after which
	// a pending task is pushed back into its queue.
	RequeueTimeout int64 `koanf:"requeue_timeout" validate:"min=1" env:"CONDUCTOR_TASK_REQUEUE_TIMEOUT"`
}

type WorkflowConfig struct {
	// MaxSearchSize caps the page size of search queries.
	MaxSearchSize int `koanf:"max_search_size" validate:"min=1" env:"CONDUCTOR_WORKFLOW_MAX_SEARCH_SIZE"`
}

type QueueConfig struct {
	// UnackTimeout is how long, in milliseconds, a popped item stays invisible
	// before it is returned to its queue.
	UnackTimeout int64 `koanf:"unack_timeout" validate:"min=1" env:"CONDUCTOR_QUEUE_UNACK_TIMEOUT"`
}

type PayloadConfig struct {
	// ThresholdKB is the serialized size above which a payload is stored
	// externally. MaxThresholdKB is the hard cap; beyond it the update fails.
	ThresholdKB    int64 `koanf:"threshold_kb"     validate:"min=1" env:"CONDUCTOR_PAYLOAD_THRESHOLD_KB"`
	MaxThresholdKB int64 `koanf:"max_threshold_kb" validate:"min=1" env:"CONDUCTOR_PAYLOAD_MAX_THRESHOLD_KB"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Task: TaskConfig{
			RequeueTimeout: 60_000,
		},
		Workflow: WorkflowConfig{
			MaxSearchSize: 5_000,
		},
		Queue: QueueConfig{
			UnackTimeout: 60_000,
		},
		Payload: PayloadConfig{
			ThresholdKB:    5_120,
			MaxThresholdKB: 10_240,
		},
	}
}
