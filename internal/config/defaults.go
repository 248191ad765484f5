package config

const (
	defaultStagingDir = "~/.local/share/slowjams/staging"
	defaultLibraryDir = "~/slowjams"
	defaultLogDir     = "~/.local/share/slowjams/logs"

	defaultGateAcquire   = 2
	defaultGateConvert   = 2
	defaultGateEdit      = 1
	defaultGateTransform = 1
	defaultGateFinalize  = 1

	defaultRetryMaxAttempts  = 3
	defaultRetryInitialDelay = 2.0
	defaultRetryMaxDelay     = 60.0
	defaultRetryJitter       = 0.25

	defaultQueuePollInterval    = 2
	defaultErrorRetryInterval   = 10
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultCancelGraceSeconds   = 10
	defaultStageTimeoutMinutes  = 60
	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
		},
		Gates: Gates{
			Acquire:   defaultGateAcquire,
			Convert:   defaultGateConvert,
			Edit:      defaultGateEdit,
			Transform: defaultGateTransform,
			Finalize:  defaultGateFinalize,
		},
		Retry: Retry{
			MaxAttempts:     defaultRetryMaxAttempts,
			InitialDelaySec: defaultRetryInitialDelay,
			MaxDelaySec:     defaultRetryMaxDelay,
			JitterFraction:  defaultRetryJitter,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			CancelGraceSeconds: defaultCancelGraceSeconds,
			StageTimeoutMin:    defaultStageTimeoutMinutes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Errors:         true,
		},
	}
}
