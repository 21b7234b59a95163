package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		DataDir:               "data",
		MaxUploadBytes:        1 << 20,
		ClaudeModel:           "claude-sonnet-4-20250514",
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", c.DataDir)
	}
	if c.MaxUploadBytes != 10<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", c.MaxUploadBytes, 10<<20)
	}
	if c.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, want us-east-1", c.S3Region)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-data-dir", "/var/lib/plume",
		"-database-url", "postgres://localhost/plume",
		"-claude-api-key", "sk-override",
		"-report-bucket", "reports",
		"-s3-path-style",
		"-max-upload-bytes", "2048",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 || c.ShutdownBudgetSeconds != 120 || c.APIPort != 9090 {
		t.Errorf("timing/port = %d/%d/%d", c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort)
	}
	if c.DataDir != "/var/lib/plume" {
		t.Errorf("DataDir = %q", c.DataDir)
	}
	if c.DatabaseURL != "postgres://localhost/plume" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q", c.ClaudeAPIKey)
	}
	if c.ReportBucket != "reports" || !c.S3PathStyle {
		t.Errorf("s3 = %q path-style=%v", c.ReportBucket, c.S3PathStyle)
	}
	if c.MaxUploadBytes != 2048 {
		t.Errorf("MaxUploadBytes = %d", c.MaxUploadBytes)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mod func(*Config)) Config {
		c := validBase()
		mod(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name:    "minimum valid values",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort, c.MaxUploadBytes = 1, 2, 1, 1 }),
			wantErr: false,
		},
		{
			name:    "maximum valid values",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535 }),
			wantErr: false,
		},
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "empty data dir",
			cfg:       with(func(c *Config) { c.DataDir = "" }),
			wantErr:   true,
			errSubstr: []string{"DATA_DIR"},
		},
		{
			name:      "zero upload limit",
			cfg:       with(func(c *Config) { c.MaxUploadBytes = 0 }),
			wantErr:   true,
			errSubstr: []string{"MAX_UPLOAD_BYTES"},
		},
		{
			name:      "negative pool size",
			cfg:       with(func(c *Config) { c.DBMaxConns = -1 }),
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS"},
		},
		{
			name:      "negative slow query threshold",
			cfg:       with(func(c *Config) { c.SlowQueryMillis = -5 }),
			wantErr:   true,
			errSubstr: []string{"DB_SLOW_QUERY_MS"},
		},
		{
			name:    "claude disabled without model",
			cfg:     with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr: false,
		},
		{
			name:      "claude key without model",
			cfg:       with(func(c *Config) { c.ClaudeAPIKey, c.ClaudeModel = "k", "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "s3 access key without secret",
			cfg:       with(func(c *Config) { c.S3AccessKey = "AKIA" }),
			wantErr:   true,
			errSubstr: []string{"S3_ACCESS_KEY"},
		},
		{
			name:    "s3 static credentials",
			cfg:     with(func(c *Config) { c.S3AccessKey, c.S3SecretKey = "AKIA", "secret" }),
			wantErr: false,
		},
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "DATA_DIR", "MAX_UPLOAD_BYTES"},
		},
		{
			name:      "extreme negative values",
			cfg:       Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	seeds := []struct {
		drain, budget, port int
		dataDir, key, model string
		maxUpload           int64
	}{
		{60, 90, 8080, "data", "", "claude-sonnet", 1 << 20},
		{1, 2, 1, "d", "k", "m", 1},
		{299, 300, 65535, "d", "", "", 1},
		{0, 0, 0, "", "", "", 0},
		{-1, -1, -1, "", "k", "", -1},
		{300, 300, 65535, "d", "k", "m", 1},
		{150, 100, 8080, "d", "k", "m", 1},
		{math.MinInt32, math.MinInt32, math.MinInt32, "", "", "", math.MinInt64},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", "", math.MaxInt64},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.dataDir, s.key, s.model, s.maxUpload)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, dataDir, key, model string, maxUpload int64) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			DataDir:               dataDir,
			ClaudeAPIKey:          key,
			ClaudeModel:           model,
			MaxUploadBytes:        maxUpload,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		dirOK := dataDir != ""
		uploadOK := maxUpload > 0
		claudeOK := key == "" || model != ""

		allValid := drainOK && budgetOK && portOK && crossOK && dirOK && uploadOK && claudeOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
