// Package persist writes the run's JSON artifacts: the crawl log, the
// run statistics, the full sample bundle, and per-(url,ext,mode)
// analysis results. Every write is atomic (temp file + rename) so a
// sibling process or a crash mid-write never leaves a half-written
// file behind — the original tool truncates its JSON files in place,
// a known race this port deliberately fixes.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mgolinelli/wcdscan/internal/analysis"
	"github.com/mgolinelli/wcdscan/internal/xerrors"
)

// CrawlLog is the persisted queue/visited state for one site.
type CrawlLog struct {
	Queue   []string `json:"queue"`
	Visited []string `json:"visited"`
}

// RunStats is the persisted per-site run summary.
type RunStats struct {
	Site         string                                  `json:"site"`
	CacheHeaders bool                                    `json:"cache_headers"`
	Tested       bool                                    `json:"tested"`
	Vulnerable   *bool                                   `json:"vulnerable,omitempty"`
	Errors       []xerrors.RunRecord                     `json:"errors,omitempty"`
	Analysis     map[string]map[string]map[string]string `json:"analysis,omitempty"`
}

// OutputBundle is the full sample bundle for one run, keyed
// url → extension → mode, so every persisted verdict stays
// attributable to the exact probe that produced it.
type OutputBundle map[string]map[string]map[string]AnalysisResult

// Add records one (url, extension, mode) result, creating the nested
// maps as needed.
func (b OutputBundle) Add(url, ext, mode string, result AnalysisResult) {
	if b[url] == nil {
		b[url] = map[string]map[string]AnalysisResult{}
	}
	if b[url][ext] == nil {
		b[url][ext] = map[string]AnalysisResult{}
	}
	b[url][ext][mode] = result
}

// AnalysisResult is one (url, extension, mode) verdict, persisted in
// full so a later `reanalyse` run can recompute just the statistics.
type AnalysisResult struct {
	Label                string              `json:"label"`
	StatisticsPrediction string              `json:"statistics_prediction"`
	Randomized           []analysisSampleDTO `json:"randomized"`
	Fixed                []analysisSampleDTO `json:"fixed"`
}

type analysisSampleDTO struct {
	TimeDiff     float64 `json:"time_diff"`
	CacheStatus1 string  `json:"cache_status_1"`
	CacheStatus2 string  `json:"cache_status_2"`
}

// ToDTO converts analysis.Sample values into the persisted shape.
func ToDTO(samples []analysis.Sample) []analysisSampleDTO {
	out := make([]analysisSampleDTO, len(samples))
	for i, s := range samples {
		out[i] = analysisSampleDTO{
			TimeDiff:     round2(s.TimeDiffMs),
			CacheStatus1: string(s.CacheStatus1),
			CacheStatus2: string(s.CacheStatus2),
		}
	}
	return out
}

func round2(f float64) float64 {
	return float64(int(f*100+sign(f)*0.5)) / 100
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// Store writes JSON artifacts under a root directory laid out the way
// the CLI's Reporting config names it (logs/, stats/, output/, analysis/).
type Store struct {
	LogsDir     string
	StatsDir    string
	OutputDir   string
	AnalysisDir string
}

// WriteCrawlLog atomically writes logs/<site>-logs.json.
func (s *Store) WriteCrawlLog(site string, log CrawlLog) error {
	return writeJSONAtomic(filepath.Join(s.LogsDir, site+"-logs.json"), log)
}

// ReadCrawlLog reads a previously persisted crawl log, returning a
// zero-value CrawlLog (not an error) if the file doesn't exist yet.
func ReadCrawlLog(path string) (CrawlLog, error) {
	var log CrawlLog
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return log, nil
	}
	if err != nil {
		return log, err
	}
	if err := json.Unmarshal(data, &log); err != nil {
		return log, err
	}
	return log, nil
}

// WriteStats atomically writes stats/<site>-stats.json.
func (s *Store) WriteStats(site string, stats RunStats) error {
	return writeJSONAtomic(filepath.Join(s.StatsDir, site+"-stats.json"), stats)
}

// WriteOutput atomically writes output/<site>-<timestamp>.json, the
// full sample bundle for the run.
func (s *Store) WriteOutput(site, timestamp string, bundle OutputBundle) error {
	return writeJSONAtomic(filepath.Join(s.OutputDir, site+"-"+timestamp+".json"), bundle)
}

// WriteAnalysis atomically writes analysis/<site>-<n>.json.
func (s *Store) WriteAnalysis(site string, n int, result AnalysisResult) error {
	path := filepath.Join(s.AnalysisDir, site+"-"+strconv.Itoa(n)+".json")
	return writeJSONAtomic(path, result)
}

// EnsureDirs creates every configured directory if missing.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.LogsDir, s.StatsDir, s.OutputDir, s.AnalysisDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
