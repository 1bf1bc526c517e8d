package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Well-known IMAP endpoints selectable via the provider field.
var imapPresets = map[string]struct {
	Host string
	Port int
}{
	"qq":      {"imap.qq.com", 993},
	"163":     {"imap.163.com", 993},
	"gmail":   {"imap.gmail.com", 993},
	"outlook": {"outlook.office365.com", 993},
}

var envVarPattern = regexp.MustCompile(`^\$\{([^}]+)\}$`)

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Email holds the mailbox connection settings.
type Email struct {
	Provider string `yaml:"provider"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Filters controls which messages are considered invoice candidates.
type Filters struct {
	SubjectKeywords []string `yaml:"subject_keywords"`
	LookbackDays    int      `yaml:"lookback_days"`
}

// Output holds the archive destination settings.
type Output struct {
	BaseDir string `yaml:"base_dir"`
}

// Browser holds the headless-browser fallback settings.
type Browser struct {
	Headless  *bool `yaml:"headless"`
	TimeoutMS int   `yaml:"timeout_ms"`
}

// IsHeadless reports whether the browser should run headless (default true).
func (b Browser) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// Config captures everything required to run the collector: the YAML file
// contents plus the command-line overrides.
type Config struct {
	Email   Email   `yaml:"email"`
	Filters Filters `yaml:"filters"`
	Output  Output  `yaml:"output"`
	Browser Browser `yaml:"browser"`

	StatePath string `yaml:"state_path"`

	// CLI-only settings, not read from the file.
	Month    string `yaml:"-"`
	DryRun   bool   `yaml:"-"`
	MboxPath string `yaml:"-"`
	LogLevel string `yaml:"-"`
	LogDir   string `yaml:"-"`
}

// DefaultDir returns the per-user collector directory (~/invoice-collector).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "invoice-collector"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("month", "m", "", "Process a specific month (YYYY-MM) instead of the lookback window")
	flags.BoolP("dry-run", "n", false, "Compute target paths without writing any files")
	flags.StringP("config", "c", "", "Path to the config file (default ~/invoice-collector/config.yaml)")
	flags.String("mbox", "", "Read messages from a local .mbox export instead of the IMAP server")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stdout only when empty)")
}

// LoadConfig reads the YAML file and merges the parsed Cobra flags.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	month, err := flags.GetString("month")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	mboxPath, err := flags.GetString("mbox")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if configPath == "" {
		configPath, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return Config{}, err
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg.Month = month
	cfg.DryRun = dryRun
	cfg.MboxPath = mboxPath
	cfg.LogLevel = logLevel
	cfg.LogDir = logDir

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Load reads, defaults and resolves a config file without CLI overrides.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config file not found: %s (copy config.yaml.example and fill in your mailbox settings)", path)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Email.Password, err = resolveEnv(cfg.Email.Password)
	if err != nil {
		return Config{}, err
	}

	provider := strings.ToLower(cfg.Email.Provider)
	if provider == "" {
		provider = "custom"
	}
	if preset, ok := imapPresets[provider]; ok {
		if cfg.Email.Host == "" {
			cfg.Email.Host = preset.Host
		}
		if cfg.Email.Port == 0 {
			cfg.Email.Port = preset.Port
		}
	}

	applyDefaults(&cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Filters.SubjectKeywords) == 0 {
		cfg.Filters.SubjectKeywords = []string{"发票", "fapiao"}
	}
	if cfg.Filters.LookbackDays <= 0 {
		cfg.Filters.LookbackDays = 30
	}
	if cfg.Output.BaseDir == "" {
		cfg.Output.BaseDir = "~/Downloads/发票归档"
	}
	if cfg.Browser.TimeoutMS <= 0 {
		cfg.Browser.TimeoutMS = 30000
	}
	if cfg.StatePath == "" {
		if dir, err := DefaultDir(); err == nil {
			cfg.StatePath = filepath.Join(dir, "state.json")
		}
	}
	cfg.Output.BaseDir = expandHome(cfg.Output.BaseDir)
	cfg.StatePath = expandHome(cfg.StatePath)
}

// resolveEnv substitutes a ${ENV_VAR} reference with the variable's value.
func resolveEnv(value string) (string, error) {
	m := envVarPattern.FindStringSubmatch(value)
	if m == nil {
		return value, nil
	}
	resolved, ok := os.LookupEnv(m[1])
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", m[1])
	}
	return resolved, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func validateConfig(cfg Config) error {
	// The mbox source needs no mailbox credentials.
	if cfg.MboxPath == "" {
		if cfg.Email.Host == "" {
			return fmt.Errorf("email host is required (set provider or host in the config file)")
		}
		if cfg.Email.Port <= 0 || cfg.Email.Port > 65535 {
			return fmt.Errorf("email port must be between 1 and 65535")
		}
		if cfg.Email.Username == "" {
			return fmt.Errorf("email username is required")
		}
		if cfg.Email.Password == "" {
			return fmt.Errorf("email password is required")
		}
	}

	if cfg.Month != "" && !monthPattern.MatchString(cfg.Month) {
		return fmt.Errorf("invalid --month %q: expected YYYY-MM", cfg.Month)
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
