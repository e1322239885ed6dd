package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mgolinelli/wcdscan/internal/analysis"
	"github.com/mgolinelli/wcdscan/internal/cacheheader"
	"github.com/mgolinelli/wcdscan/internal/config"
	"github.com/mgolinelli/wcdscan/internal/crawl"
	"github.com/mgolinelli/wcdscan/internal/experiment"
	"github.com/mgolinelli/wcdscan/internal/h2engine"
	"github.com/mgolinelli/wcdscan/internal/httpclient"
	"github.com/mgolinelli/wcdscan/internal/persist"
	"github.com/mgolinelli/wcdscan/internal/randtoken"
	"github.com/mgolinelli/wcdscan/internal/request"
	"github.com/mgolinelli/wcdscan/internal/runmetrics"
	"github.com/mgolinelli/wcdscan/internal/wcd"
	"github.com/mgolinelli/wcdscan/internal/xerrors"
)

// runScan drives the crawl queue for one site through the controller
// state machine, dispatching the mode set by cfg.Experiment.Mode:
// "preliminary" and "hidden-caches" test {direct} only, "wcd" tests
// the full attack-URL mode set.
func runScan(cfg *config.Config) error {
	site := siteNameOf(cfg.Target.URL)

	store := &persist.Store{
		LogsDir:     cfg.Reporting.LogsDir,
		StatsDir:    cfg.Reporting.StatsDir,
		OutputDir:   cfg.Reporting.OutputDir,
		AnalysisDir: cfg.Reporting.AnalysisDir,
	}
	if err := store.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing output directories: %w", err)
	}

	if cfg.Reporting.MetricsAddr != "" {
		go func() {
			if err := runmetrics.Serve(cfg.Reporting.MetricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down, persisting accumulated state...")
		cancel()
	}()

	logPath := fmt.Sprintf("%s/%s-logs.json", cfg.Reporting.LogsDir, site)
	prior, err := persist.ReadCrawlLog(logPath)
	if err != nil {
		return fmt.Errorf("reading prior crawl log: %w", err)
	}

	queue, err := crawl.New(cfg.Experiment.MaxURLs, cfg.Experiment.MaxDomains, cfg.Target.Exclude)
	if err != nil {
		return fmt.Errorf("building crawl queue: %w", err)
	}
	if len(prior.Queue) > 0 || len(prior.Visited) > 0 {
		for _, u := range prior.Visited {
			queue.MarkVisited(u)
		}
		for _, u := range prior.Queue {
			queue.Enqueue(u)
		}
	} else {
		if err := queue.Enqueue(cfg.Target.URL); err != nil {
			return fmt.Errorf("enqueuing seed url: %w", err)
		}
	}

	client := httpclient.New(cfg.Conn.ReadTimeout, cfg.Conn.TLSSkipVerify)
	ledger := randtoken.NewLedger(config.DefaultTokenLength)
	ctl := experiment.New(cfg, client)

	if cfg.Target.CookieFile != "" {
		cookies, err := loadCookieFile(cfg.Target.CookieFile)
		if err != nil {
			return fmt.Errorf("reading cookie file: %w", err)
		}
		ctl.SetBaseCookies(cookies)
	}

	stats := persist.RunStats{Site: site, Tested: true}
	errStats := &xerrors.ErrorStats{}
	analysisOut := map[string]map[string]map[string]string{}
	bundle := persist.OutputBundle{}
	resultIndex := 0

	for queue.ShouldContinue() {
		if ctx.Err() != nil {
			break
		}
		rawURL, ok := queue.NextURL()
		if !ok {
			break
		}
		if queue.Visited(rawURL) && !cfg.Experiment.Retest {
			continue
		}
		queue.MarkVisited(rawURL)

		runmetrics.URLsInflightInc()
		log.Printf("fetching %s", rawURL)

		warm, err := ctl.Warm(ctx, rawURL)
		if err != nil {
			errStats.Record(rawURL, err)
			runmetrics.URLsInflightDec()
			continue
		}

		for _, link := range queue.ExtractLinks(rawURL, string(warm.Body)) {
			queue.Enqueue(link)
		}

		if cacheheader.Classify(warm.Headers) != cacheheader.Unknown {
			stats.CacheHeaders = true
		}

		authority, err := authorityOf(rawURL)
		if err != nil {
			errStats.Record(rawURL, err)
			runmetrics.URLsInflightDec()
			continue
		}
		conn, err := experiment.Dial(authority, cfg)
		if err != nil {
			errStats.Record(rawURL, err)
			runmetrics.URLsInflightDec()
			continue
		}

		urlAnalysis := map[string]map[string]string{}

		modes := experiment.DirectModes
		if cfg.Experiment.Mode == "wcd" {
			modes = experiment.WCDModes(cfg.Experiment.WCDExtensions)
		}
		bustPath := cfg.Experiment.Mode == "hidden-caches"

		if cfg.Experiment.Mode == "preliminary" {
			probe, err := ctl.ProbeCache(ctx, ledger, site, rawURL)
			if err != nil {
				errStats.Record(rawURL+" probe_cache", err)
				conn.Close()
				runmetrics.URLsInflightDec()
				continue
			}
			if !probe.OK {
				log.Printf("%s: PROBE_CACHE could not confirm cacheability, abandoning", rawURL)
				conn.Close()
				runmetrics.URLsInflightDec()
				continue
			}
			rawURL = probe.URL
			bustPath = probe.BustPath
		}

		for _, mode := range modes {
			outcome, err := runURLMode(ctx, ctl, conn, ledger, rawURL, mode, warm.Vary, bustPath, cfg.Analysis.IdenticalityToleranceBytes)
			if err != nil {
				errStats.Record(rawURL+" "+mode.String(), err)
				// A failed round may have left the connection dead; the
				// remaining modes get a fresh one.
				if xerrors.IsRetryable(err) {
					conn.Close()
					time.Sleep(config.ReconnectDelay)
					if conn, err = experiment.Dial(authority, cfg); err != nil {
						errStats.Record(rawURL, err)
						conn = nil
						break
					}
				}
				continue
			}
			if outcome.Skipped != "" {
				log.Printf("%s [%s]: skipped (%s)", rawURL, mode.String(), outcome.Skipped)
				continue
			}

			ext := mode.Extension
			if ext == "" {
				ext = "-"
			}
			if urlAnalysis[ext] == nil {
				urlAnalysis[ext] = map[string]string{}
			}
			urlAnalysis[ext][kindOf(mode)] = outcome.Verdict.StatisticsPrediction

			if anySampleHasStatus(outcome.Randomized) || anySampleHasStatus(outcome.Fixed) {
				stats.CacheHeaders = true
			}
			// Only a CACHE verdict on an attack-URL payload means the
			// site is deceivable; a direct-mode CACHE verdict just means
			// a cache exists.
			if !mode.IsDirect() && outcome.Verdict.StatisticsPrediction == "CACHE" {
				vulnerable := true
				stats.Vulnerable = &vulnerable
			}

			result := persist.AnalysisResult{
				Label:                outcome.Label,
				StatisticsPrediction: outcome.Verdict.StatisticsPrediction,
				Randomized:           persist.ToDTO(outcome.Randomized),
				Fixed:                persist.ToDTO(outcome.Fixed),
			}
			bundle.Add(rawURL, ext, kindOf(mode), result)
			resultIndex++
			if err := store.WriteAnalysis(site, resultIndex, result); err != nil {
				log.Printf("writing analysis artifact: %v", err)
			}

			log.Printf("%s [%s]: %s (label=%s, p=%.4f)", rawURL, mode.String(),
				outcome.Verdict.StatisticsPrediction, outcome.Label, outcome.Verdict.PValue)
			if cfg.Experiment.Debug {
				log.Printf("%s [%s]: randomized mean %.2fms, fixed mean %.2fms, t=%.4f",
					rawURL, mode.String(), outcome.Verdict.RandomizedMean, outcome.Verdict.FixedMean, outcome.Verdict.TStatistic)
				for i, s := range outcome.Fixed {
					log.Printf("  fixed[%d] time_diff=%.2fms status1=%s status2=%s", i, s.TimeDiffMs, s.CacheStatus1, s.CacheStatus2)
				}
			}
		}

		if conn != nil {
			conn.Close()
		}
		if len(urlAnalysis) > 0 {
			analysisOut[rawURL] = urlAnalysis
		}
		runmetrics.URLsInflightDec()
	}

	stats.Errors = errStats.Records
	stats.Analysis = analysisOut
	if err := store.WriteStats(site, stats); err != nil {
		return fmt.Errorf("writing run stats: %w", err)
	}
	if err := store.WriteCrawlLog(site, persist.CrawlLog{Queue: queue.Pending(), Visited: queue.VisitedList()}); err != nil {
		return fmt.Errorf("writing crawl log: %w", err)
	}
	if len(bundle) > 0 {
		timestamp := time.Now().Format("2006-01-02-15-04-05")
		if err := store.WriteOutput(site, timestamp, bundle); err != nil {
			return fmt.Errorf("writing output bundle: %w", err)
		}
	}

	fmt.Printf("\nScan complete: %d error(s), %d verdict(s) recorded\n", errStats.Total(), resultIndex)
	return nil
}

// runURLMode executes WARM (already done by the caller), the mode-
// specific IDENTICALITY pre-check for WCD modes, and the full
// RANDOMIZED_ROUND/PRIME_FIXED/FIXED_ROUND/ANALYSE sequence via the
// controller.
func runURLMode(ctx context.Context, ctl *experiment.Controller, conn *h2engine.Conn, ledger *randtoken.Ledger, rawURL string, mode experiment.Mode, vary string, bustPath bool, identicalityToleranceBytes int) (experiment.Outcome, error) {
	fixedURL := rawURL

	if !mode.IsDirect() {
		token1 := ledger.Next()
		token2 := ledger.Next()
		attack1, err := wcd.AttackURL(rawURL, wcd.Mode(mode.Kind), mode.Extension, token1)
		if err != nil {
			return experiment.Outcome{Mode: mode}, err
		}
		attack2, err := wcd.AttackURL(rawURL, wcd.Mode(mode.Kind), mode.Extension, token2)
		if err != nil {
			return experiment.Outcome{Mode: mode}, err
		}
		identical, err := ctl.Identicality(ctx, attack1, attack2, identicalityToleranceBytes)
		if err != nil {
			return experiment.Outcome{Mode: mode}, err
		}
		if identical {
			return experiment.Outcome{Mode: mode, Skipped: "identicality pre-check: attack URLs are indistinguishable"}, nil
		}

		fixedToken := ledger.Next()
		fixedURL, err = wcd.AttackURL(rawURL, wcd.Mode(mode.Kind), mode.Extension, fixedToken)
		if err != nil {
			return experiment.Outcome{Mode: mode}, err
		}
		bustPath = false // the attack URL's path already carries the cache-deceiving suffix
	}

	return ctl.RunMode(ctx, conn, ledger, siteNameOf(rawURL), rawURL, fixedURL, vary, mode, bustPath)
}

func kindOf(mode experiment.Mode) string {
	if mode.IsDirect() {
		return "direct"
	}
	return mode.Kind
}

func anySampleHasStatus(samples []analysis.Sample) bool {
	for _, s := range samples {
		if s.CacheStatus1 != cacheheader.Unknown || s.CacheStatus2 != cacheheader.Unknown {
			return true
		}
	}
	return false
}

func siteNameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// loadCookieFile reads one NAME=VALUE cookie per line. Blank lines
// and lines starting with "#" are skipped. No expiry or domain/path
// scoping: this only seeds a fixed set of cookies attached to every
// request of the run.
func loadCookieFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cookies := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return cookies, nil
}

func authorityOf(rawURL string) (string, error) {
	req, err := request.New("GET", rawURL)
	if err != nil {
		return "", err
	}
	return req.Authority(), nil
}

