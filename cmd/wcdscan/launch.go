package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mgolinelli/wcdscan/internal/config"
)

// launchBlacklist mirrors the original launcher's blacklist substrings:
// sites not worth a WCD scan (major properties, government TLDs,
// academic archives unlikely to run the kind of bespoke cache rule the
// attack targets).
var launchBlacklist = []string{"google", "facebook", "amazon", "twitter", ".gov", "acm.com", "jstor.org", "arxiv"}

// runLaunchCommand fans a site list out to per-site `wcdscan wcd`
// worker processes, up to a concurrency cap, skipping sites already
// recorded as tested (unless -testall) and any blacklisted substring
// match.
func runLaunchCommand(args []string) error {
	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	sitesPath := fs.String("sites", "", "Path to a newline-separated site list (required)")
	max := fs.Int("max", config.DefaultLaunchMax, "Maximum concurrent worker processes")
	extraArgs := fs.String("arguments", "--max 10 --domains 10 --reproducible", "Additional arguments passed to each wcdscan wcd invocation")
	testAll := fs.Bool("testall", false, "Re-test sites already recorded in logs/tested.json")
	yes := fs.Bool("yes", false, "Skip each worker's public-target confirmation prompt")
	timeout := fs.Duration("timeout", config.DefaultLaunchTimeout, "Per-site worker timeout")
	logsDir := fs.String("logs-dir", "logs", "Directory holding tested.json")
	fs.Parse(args)

	if *sitesPath == "" {
		return fmt.Errorf("-sites is required")
	}

	testedPath := filepath.Join(*logsDir, "tested.json")
	tested, err := loadTested(testedPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", testedPath, err)
	}

	sites, err := loadSiteList(*sitesPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *sitesPath, err)
	}
	rand.Shuffle(len(sites), func(i, j int) { sites[i], sites[j] = sites[j], sites[i] })

	testedSet := make(map[string]bool, len(tested))
	for _, s := range tested {
		testedSet[s] = true
	}

	var mu sync.Mutex
	sem := make(chan struct{}, *max)
	var wg sync.WaitGroup

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating wcdscan binary: %w", err)
	}

	for _, site := range sites {
		site = strings.TrimSpace(site)
		if site == "" {
			continue
		}
		if isBlacklisted(site) {
			continue
		}
		if !*testAll && testedSet[site] {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(site string) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := launchWorker(exe, site, *extraArgs, *timeout, *yes)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				tested = append(tested, site)
				if err := saveTested(testedPath, tested); err != nil {
					log.Printf("saving %s: %v", testedPath, err)
				}
				log.Printf("[%d/%d] %s tested", len(tested), len(sites), site)
			} else {
				log.Printf("%s failed or timed out", site)
			}
		}(site)
	}

	wg.Wait()

	fmt.Printf("Tested %d site(s)\n", len(tested))
	return nil
}

func launchWorker(exe, site, extraArgs string, timeout time.Duration, yes bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	argv := append([]string{"wcd", "--target", site}, strings.Fields(extraArgs)...)
	if yes {
		argv = append(argv, "--yes")
	}

	cmd := exec.CommandContext(ctx, exe, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Printf(">>> %s %s", exe, strings.Join(argv, " "))
	return cmd.Run() == nil
}

func isBlacklisted(site string) bool {
	for _, b := range launchBlacklist {
		if strings.Contains(site, b) {
			return true
		}
	}
	return false
}

func loadSiteList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sites []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Accept either a bare site per line or a CSV with the site in
		// the second column, matching the original launcher's format.
		if fields := strings.Split(line, ","); len(fields) > 1 {
			sites = append(sites, strings.TrimSpace(fields[1]))
		} else {
			sites = append(sites, line)
		}
	}
	return sites, scanner.Err()
}

func loadTested(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tested []string
	if err := json.Unmarshal(data, &tested); err != nil {
		return nil, err
	}
	return tested, nil
}

func saveTested(path string, tested []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(tested)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
