// Command wcdscan scans a site for HTTP caches (preliminary,
// hidden-caches) or for Web Cache Deception vulnerabilities (wcd),
// using a raw HTTP/2 timeless timing attack to infer cache behavior
// without trusting response headers alone.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/mgolinelli/wcdscan/internal/config"
	"github.com/mgolinelli/wcdscan/internal/randtoken"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	var err error
	switch sub {
	case "preliminary", "hidden-caches", "wcd":
		err = runScanCommand(sub, args)
	case "reanalyse":
		err = runReanalyseCommand(args)
	case "launch":
		err = runLaunchCommand(args)
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "wcdscan: unknown subcommand %q\n\n", sub)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Printf("wcdscan %s: %v", sub, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: wcdscan <subcommand> [flags]

subcommands:
  preliminary     does this site have a cache?
  hidden-caches   discover caches masked by header scrubbing
  wcd             scan for web cache deception vulnerabilities
  reanalyse       recompute a verdict from a persisted output/*.json bundle
  launch          fan a site list out to per-site wcd worker processes`)
}

// registerCommonFlags binds the flags every scan subcommand shares
// onto cfg.
func registerCommonFlags(fs *flag.FlagSet, cfg *config.Config, args []string) {
	fs.StringVar(&cfg.Target.URL, "target", "", "Target site URL (required)")
	fs.StringVar(&cfg.Target.CookieFile, "cookie", "", "Path to a cookie file (one NAME=VALUE per line)")
	excludeFlag := fs.String("exclude", "", "Comma-separated extra excluded-extension regexes")

	fs.IntVar(&cfg.Experiment.RequestPairs, "requests", cfg.Experiment.RequestPairs, "Request pairs per randomized/fixed round")
	fs.IntVar(&cfg.Experiment.MaxURLs, "max", cfg.Experiment.MaxURLs, "Per-run URL budget")
	fs.IntVar(&cfg.Experiment.MaxDomains, "domains", cfg.Experiment.MaxDomains, "Per-run domain cap")
	fs.BoolVar(&cfg.Experiment.Retest, "retest", false, "Re-test URLs already recorded as tested")
	fs.BoolVar(&cfg.Experiment.Reproducible, "reproducible", false, "Seed the token PRNG with a fixed value and skip the public-target prompt")
	fs.BoolVar(&cfg.Experiment.Debug, "debug", false, "Verbose progress logging")

	fs.DurationVar(&cfg.Conn.ConnectTimeout, "connect-timeout", cfg.Conn.ConnectTimeout, "H2 connection timeout")
	fs.DurationVar(&cfg.Conn.ReadTimeout, "read-timeout", cfg.Conn.ReadTimeout, "Ordinary HTTP fetch timeout")
	fs.DurationVar(&cfg.Conn.RoundTimeout, "round-timeout", cfg.Conn.RoundTimeout, "Per-pair H2 round timeout")
	fs.IntVar(&cfg.Conn.InterRequestMs, "inter-request-ms", cfg.Conn.InterRequestMs, "Milliseconds between request pairs")
	fs.Float64Var(&cfg.Conn.RequestsPerSecond, "rps", cfg.Conn.RequestsPerSecond, "Scanner outbound rate limit (0 = derive from inter-request-ms)")
	fs.BoolVar(&cfg.Conn.TLSSkipVerify, "tls-skip-verify", cfg.Conn.TLSSkipVerify, "Skip TLS certificate verification")

	fs.Float64Var(&cfg.Analysis.SignificanceLevel, "significance", cfg.Analysis.SignificanceLevel, "Welch's t-test alpha")
	fs.Float64Var(&cfg.Analysis.AmplificationFactor, "amplification", cfg.Analysis.AmplificationFactor, "Negative fixed-sample amplification factor")
	fs.Float64Var(&cfg.Analysis.OutlierSigma, "outlier-sigma", cfg.Analysis.OutlierSigma, "Outlier trim threshold in standard deviations")
	fs.IntVar(&cfg.Analysis.IdenticalityToleranceBytes, "identicality-tolerance", cfg.Analysis.IdenticalityToleranceBytes, "Byte-difference budget for the identicality pre-check (0 = exact match)")

	fs.StringVar(&cfg.Reporting.LogsDir, "logs-dir", cfg.Reporting.LogsDir, "Crawl-log output directory")
	fs.StringVar(&cfg.Reporting.StatsDir, "stats-dir", cfg.Reporting.StatsDir, "Run-stats output directory")
	fs.StringVar(&cfg.Reporting.OutputDir, "output-dir", cfg.Reporting.OutputDir, "Sample-bundle output directory")
	fs.StringVar(&cfg.Reporting.AnalysisDir, "analysis-dir", cfg.Reporting.AnalysisDir, "Per-verdict analysis output directory")
	fs.StringVar(&cfg.Reporting.MetricsAddr, "metrics-addr", "", "Address to serve /metrics on (empty disables)")

	fs.BoolVar(&cfg.Launch.Yes, "yes", false, "Skip the public-target confirmation prompt")

	fs.Parse(args)

	if *excludeFlag != "" {
		cfg.Target.Exclude = strings.Split(*excludeFlag, ",")
	}
}

func runScanCommand(mode string, args []string) error {
	if err := config.LoadDotEnv(""); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Experiment.Mode = mode
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	registerCommonFlags(fs, cfg, args)

	// Flags win; the .env file fills in whatever was left unset.
	if cfg.Target.CookieFile == "" {
		cfg.Target.CookieFile = config.EnvOrDefault("WCDSCAN_COOKIE_FILE", "")
	}
	if cfg.Reporting.MetricsAddr == "" {
		cfg.Reporting.MetricsAddr = config.EnvOrDefault("WCDSCAN_METRICS_ADDR", "")
	}

	if cfg.Target.URL == "" {
		return fmt.Errorf("-target is required")
	}

	if !cfg.Experiment.Reproducible && !cfg.Launch.Yes {
		if !confirmPublicTarget(cfg.Target.URL) {
			fmt.Println("Scan cancelled by user.")
			os.Exit(0)
		}
	}

	if cfg.Experiment.Reproducible {
		randtoken.Seed(config.DefaultReproducibleSeed)
	}

	return runScan(cfg)
}

// confirmPublicTarget checks if the target is a public IP and asks for
// user confirmation before the scanner sends it any traffic.
func confirmPublicTarget(targetURL string) bool {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return true
	}

	host := parsed.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return promptUserConfirmation(host, "unresolved hostname")
		}
		ip = ips[0]
	}

	if isPrivateIP(ip) {
		return true
	}

	return promptUserConfirmation(host, ip.String())
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range privateRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func promptUserConfirmation(host, resolvedIP string) bool {
	fmt.Println()
	fmt.Println("==============================================================")
	fmt.Println("                    PUBLIC TARGET WARNING")
	fmt.Println("==============================================================")
	fmt.Printf("  Target:      %s\n", host)
	fmt.Printf("  Resolved IP: %s\n", resolvedIP)
	fmt.Println("--------------------------------------------------------------")
	fmt.Println("  This appears to be a PUBLIC IP address.")
	fmt.Println()
	fmt.Println("  You MUST have written authorization to scan this target.")
	fmt.Println("  Unauthorized scanning is illegal in most jurisdictions.")
	fmt.Println("==============================================================")
	fmt.Println()
	fmt.Print("Do you have authorization to scan this target? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
