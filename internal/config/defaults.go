package config

const (
	defaultConfigPath   = "~/.config/atelier/config.toml"
	defaultDataDir      = "~/.local/share/atelier"
	defaultImageDir     = "~/.local/share/atelier/images"
	defaultReferenceDir = "~/.local/share/atelier/references"
	defaultUploadDir    = "~/.local/share/atelier/uploads"
	defaultLogDir       = "~/.local/share/atelier/logs"
	defaultAPIBind      = "127.0.0.1:7488"

	defaultProviderKind    = ProviderOpenAI
	defaultOpenAIModel     = "dall-e-3"
	defaultImageSize       = "1024x1024"
	defaultProviderTimeout = 120

	defaultStorageBackend = StorageLocal
	defaultS3Region       = "us-east-1"

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultProcessingTimeout  = 600
	defaultStaleAction        = StaleActionRequeue
	defaultMaxAttempts        = 3
	defaultLineageMaxDepth    = 64

	defaultMaxBatch        = 4
	defaultHistoryPageSize = 20

	defaultNtfyRequestTimeout = 10

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
)

// Provider kinds.
const (
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Actions applied to queue items found stuck in processing.
const (
	StaleActionRequeue = "requeue"
	StaleActionFail    = "fail"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ImageDir:     defaultImageDir,
			ReferenceDir: defaultReferenceDir,
			UploadDir:    defaultUploadDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Provider: Provider{
			Kind:           defaultProviderKind,
			Model:          defaultOpenAIModel,
			Size:           defaultImageSize,
			TimeoutSeconds: defaultProviderTimeout,
		},
		Storage: Storage{
			Backend:  defaultStorageBackend,
			S3Region: defaultS3Region,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ProcessingTimeout:  defaultProcessingTimeout,
			StaleAction:        defaultStaleAction,
			MaxAttempts:        defaultMaxAttempts,
			LineageMaxDepth:    defaultLineageMaxDepth,
		},
		Submission: Submission{
			MaxBatch:        defaultMaxBatch,
			HistoryPageSize: defaultHistoryPageSize,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			NotifyFailures: true,
			NotifyDrained:  true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
