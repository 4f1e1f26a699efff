package config

const (
	defaultImportRoot           = "~/nzbs/Import"
	defaultContentRoot          = "~/nzbs"
	defaultMountRoot            = "/mnt/usenet"
	defaultLogDir               = "~/.local/share/blackhole/logs"
	defaultStateDir             = "~/.local/share/blackhole"
	defaultEnvFile              = "~/.config/blackhole/.env"
	defaultRcloneURL            = "http://127.0.0.1:5572"
	defaultRcloneImportPrefix   = "/Import"
	defaultConfirmAttempts      = 5
	defaultConfirmIntervalMS    = 1000
	defaultSABnzbdURL           = "http://127.0.0.1:8080"
	defaultSABnzbdRPS           = 5
	defaultTriagePolicy         = PolicyExtension
	defaultTriageMaxRetries     = 3
	defaultTriageRetryBackoffMS = 2000
	defaultEventBuffer          = 256
	defaultHTTPTimeoutSeconds   = 15
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNtfyRequestTimeout   = 10
)

// CompletedDirName is the per-category subtree that receives direct
// descriptors. It is never watched or swept.
const CompletedDirName = "completed"

// Policy names accepted by triage.policy.
const (
	PolicyExtension = "extension"
	PolicyStrict    = "strict"
)

// Library kinds accepted by categories.library.kind.
const (
	LibraryKindSeries = "series"
	LibraryKindMovie  = "movie"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ImportRoot:  defaultImportRoot,
			ContentRoot: defaultContentRoot,
			MountRoot:   defaultMountRoot,
			LogDir:      defaultLogDir,
			StateDir:    defaultStateDir,
			EnvFile:     defaultEnvFile,
		},
		Rclone: Rclone{
			URL:               defaultRcloneURL,
			ImportPrefix:      defaultRcloneImportPrefix,
			ConfirmAttempts:   defaultConfirmAttempts,
			ConfirmIntervalMS: defaultConfirmIntervalMS,
		},
		SABnzbd: SABnzbd{
			URL:               defaultSABnzbdURL,
			RequestsPerSecond: defaultSABnzbdRPS,
		},
		Triage: Triage{
			Policy:         defaultTriagePolicy,
			MaxRetries:     defaultTriageMaxRetries,
			RetryBackoffMS: defaultTriageRetryBackoffMS,
			EventBuffer:    defaultEventBuffer,
		},
		HTTP: HTTP{
			TimeoutSeconds: defaultHTTPTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			Errors:         true,
		},
	}
}
