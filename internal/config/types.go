package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Automation AutomationConfig `json:"automation"`
	Platform   PlatformConfig   `json:"platform"`
	Oracle     OracleConfig     `json:"oracle"`
	Bank       BankConfig       `json:"bank"`
	Bindings   BindingsConfig   `json:"bindings"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminUserIDs may use admin-only commands (always via private chat).
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
	// AllowGroupIDs are group chats where non-bind commands are allowed.
	AllowGroupIDs []int64 `json:"allow_group_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the automation job scheduler.
//
// Workers is clamped to [1,3]: the target platform tolerates very little
// parallel traffic and the original deployment never ran more than 3.
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// Retention is a Go duration string; finished jobs older than this are
	// purged from the registry. Defaults to 24h.
	Retention string `json:"retention,omitempty"`
}

// AutomationConfig holds the submission policy knobs.
//
// StrictMode and MinAnswerRate are independent: strict mode refuses a
// chapter with any unanswered question, the rate threshold refuses below a
// coverage fraction. Configuring strict=false with min_answer_rate=1.0 is
// valid and behaves like strict mode without the stop-on-first-failure rule.
type AutomationConfig struct {
	StrictMode    bool    `json:"strict_mode,omitempty"`
	AutoSubmit    *bool   `json:"auto_submit,omitempty"` // nil means true
	MinAnswerRate float64 `json:"min_answer_rate,omitempty"`
	// TargetCourses marks courses that have local answer bank coverage
	// (substring match against course names).
	TargetCourses []string `json:"target_courses,omitempty"`
}

func (a AutomationConfig) SubmitEnabled() bool {
	return a.AutoSubmit == nil || *a.AutoSubmit
}

type PlatformConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout is the per-call HTTP timeout (Go duration string, default 15s).
	Timeout string `json:"timeout,omitempty"`
	// LoginAttempts bounds session-establishment passes; only transport
	// errors consume a retry (an exhausted encoding table fails outright).
	LoginAttempts int `json:"login_attempts,omitempty"`
}

type OracleConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	// Timeout is a Go duration string (default 20s).
	Timeout    string `json:"timeout,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BankConfig selects the local answer bank backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "json":   the legacy question_bank.json document, loaded read-only
//   - "" / "none": no local bank; every question goes to the oracle
type BankConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

type BindingsConfig struct {
	Path    string `json:"path"`
	KeyPath string `json:"key_path,omitempty"` // default: <path dir>/secret.key
}
