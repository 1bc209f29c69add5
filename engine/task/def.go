package task

// Def carries the execution policy for a task-def name: retry budget and
// shape, execution and response timeouts, and the in-progress concurrency
// limit enforced at poll time.
type Def struct {
	Name                   string        `json:"name"                   yaml:"name"                   validate:"required"`
	RetryCount             int           `json:"retryCount"             yaml:"retry_count"`
	RetryLogic             RetryLogic    `json:"retryLogic"             yaml:"retry_logic"`
	RetryDelaySeconds      int64         `json:"retryDelaySeconds"      yaml:"retry_delay_seconds"`
	TimeoutSeconds         int64         `json:"timeoutSeconds"         yaml:"timeout_seconds"`
	TimeoutPolicy          TimeoutPolicy `json:"timeoutPolicy"          yaml:"timeout_policy"`
	ResponseTimeoutSeconds int64         `json:"responseTimeoutSeconds" yaml:"response_timeout_seconds"`
	ConcurrentExecLimit    int           `json:"concurrentExecLimit"    yaml:"concurrent_exec_limit"`
}

// NewDef returns a Def with the stock policy: three fixed retries spaced a
// minute apart, one hour execution timeout, timeout times out the workflow.
func NewDef(name string) *Def {
	return &Def{
		Name:              name,
		RetryCount:        3,
		RetryLogic:        RetryFixed,
		RetryDelaySeconds: 60,
		TimeoutSeconds:    3600,
		TimeoutPolicy:     TimeoutWorkflow,
	}
}
