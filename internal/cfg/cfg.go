package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the application settings. It satisfies the go-core
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DataDir               string
	MaxUploadBytes        int64

	DatabaseURL     string
	DBMaxConns      int
	SlowQueryMillis int

	ClaudeAPIKey string
	ClaudeModel  string

	SlackWebhookURL string

	ReportBucket string
	S3Endpoint   string
	S3Region     string
	S3PathStyle  bool
	S3AccessKey  string
	S3SecretKey  string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DataDir, "data-dir", "data", "directory holding assets.csv and events.csv")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 10<<20, "maximum size of an event import upload")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = CSV files in data-dir)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "PostgreSQL pool size (0 = pgx default)")
	fs.IntVar(&c.SlowQueryMillis, "db-slow-query-ms", 0, "only log successful queries slower than this many milliseconds")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude assistant (empty = assistant disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for lifecycle notifications")
	fs.StringVar(&c.ReportBucket, "report-bucket", "", "S3 bucket for archived reports (empty = archive disabled)")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "custom S3 endpoint, e.g. MinIO")
	fs.StringVar(&c.S3Region, "s3-region", "us-east-1", "S3 region")
	fs.BoolVar(&c.S3PathStyle, "s3-path-style", false, "use path-style S3 addressing")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", "", "static S3 access key (empty = default AWS credential chain)")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", "", "static S3 secret key")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// the data dir seeds pgstore too, so it is always required
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_BYTES %d (must be positive)", c.MaxUploadBytes))
	}

	if c.DBMaxConns < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be >= 0)", c.DBMaxConns))
	}
	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
