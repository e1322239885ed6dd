package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for a scan run, built from flags,
// environment variables, and an optional .env file.
type Config struct {
	Target     TargetConfig
	Experiment ExperimentConfig
	Conn       ConnConfig
	Analysis   AnalysisConfig
	Reporting  ReportingConfig
	Launch     LaunchConfig
}

// TargetConfig describes the site under test.
type TargetConfig struct {
	URL        string
	CookieFile string
	Exclude    []string // extra excluded-extension regexes, appended to the crawler defaults
}

// ExperimentConfig controls the controller's round sizing and crawl budgets.
type ExperimentConfig struct {
	Mode          string // "preliminary", "hidden-caches", "wcd"
	RequestPairs  int
	MaxURLs       int
	MaxDomains    int
	Retest        bool
	Reproducible  bool // seed PRNG with 42
	Debug         bool
	WCDExtensions []string
}

// ConnConfig controls the H2 timing engine and ordinary HTTP client.
type ConnConfig struct {
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	InterRequestMs    int
	RoundTimeout      time.Duration
	TLSSkipVerify     bool
	RequestsPerSecond float64 // throttles the scanner's own outbound rate
}

// AnalysisConfig exposes the Analyser's empirical knobs.
type AnalysisConfig struct {
	SignificanceLevel          float64
	AmplificationFactor        float64
	OutlierSigma               float64
	IdenticalityToleranceBytes int
}

// ReportingConfig controls where persisted artifacts and metrics go.
type ReportingConfig struct {
	LogsDir     string
	StatsDir    string
	OutputDir   string
	AnalysisDir string
	MetricsAddr string // empty disables the /metrics endpoint
}

// LaunchConfig controls the fleet launcher (cmd/wcdscan/launch.go).
type LaunchConfig struct {
	Max     int
	Timeout time.Duration
	Yes     bool // skip the public-target confirmation prompt
}

// DefaultConfig returns sensible defaults for a scan run.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{},
		Experiment: ExperimentConfig{
			Mode:          "preliminary",
			RequestPairs:  DefaultRequestPairs,
			MaxURLs:       DefaultMaxURLs,
			MaxDomains:    DefaultMaxDomains,
			WCDExtensions: append([]string(nil), DefaultWCDExtensions...),
		},
		Conn: ConnConfig{
			ConnectTimeout: DefaultConnectTimeout,
			ReadTimeout:    DefaultReadTimeout,
			InterRequestMs: DefaultInterRequestMs,
			RoundTimeout:   DefaultRoundTimeout,
			TLSSkipVerify:  false,
		},
		Analysis: AnalysisConfig{
			SignificanceLevel:          DefaultSignificanceLevel,
			AmplificationFactor:        DefaultAmplificationFactor,
			OutlierSigma:               OutlierSigmaFactor,
			IdenticalityToleranceBytes: DefaultIdenticalityToleranceBytes,
		},
		Reporting: ReportingConfig{
			LogsDir:     "logs",
			StatsDir:    "stats",
			OutputDir:   "output",
			AnalysisDir: "analysis",
		},
		Launch: LaunchConfig{
			Max:     DefaultLaunchMax,
			Timeout: DefaultLaunchTimeout,
		},
	}
}

// LoadDotEnv loads a .env file if present, populating process environment
// variables that flag defaults may then read. Missing files are not an
// error — most runs have no .env at all.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// EnvOrDefault returns the environment variable's value, or def if unset.
func EnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
