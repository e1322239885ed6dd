package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mgolinelli/wcdscan/internal/analysis"
	"github.com/mgolinelli/wcdscan/internal/cacheheader"
)

// sampleBundleDTO mirrors persist.AnalysisResult's wire shape without
// importing persist, since reanalyse only needs to read the JSON back,
// not write it atomically.
type sampleBundleDTO struct {
	Label                string           `json:"label"`
	StatisticsPrediction string           `json:"statistics_prediction"`
	Randomized           []sampleFieldDTO `json:"randomized"`
	Fixed                []sampleFieldDTO `json:"fixed"`
}

type sampleFieldDTO struct {
	TimeDiff     float64 `json:"time_diff"`
	CacheStatus1 string  `json:"cache_status_1"`
	CacheStatus2 string  `json:"cache_status_2"`
}

// runReanalyseCommand reloads a persisted output/*.json sample bundle
// and recomputes its verdict, letting an operator retune the
// significance level or amplification factor without re-scanning.
func runReanalyseCommand(args []string) error {
	fs := flag.NewFlagSet("reanalyse", flag.ExitOnError)
	inputPath := fs.String("input", "", "Path to a persisted output/*.json sample bundle (required)")
	significance := fs.Float64("significance", 0.01, "Welch's t-test alpha")
	amplification := fs.Float64("amplification", 5.0, "Negative fixed-sample amplification factor")
	outlierSigma := fs.Float64("outlier-sigma", 2.0, "Outlier trim threshold in standard deviations")
	fs.Parse(args)

	if *inputPath == "" {
		return fmt.Errorf("-input is required")
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *inputPath, err)
	}

	var bundle map[string]map[string]map[string]sampleBundleDTO
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parsing %s: %w", *inputPath, err)
	}

	cfg := analysis.Config{
		SignificanceLevel:   *significance,
		AmplificationFactor: *amplification,
		OutlierSigma:        *outlierSigma,
		MinUsableSamples:    5,
	}

	for url, byExt := range bundle {
		for ext, byMode := range byExt {
			for mode, result := range byMode {
				randomized := toSamples(result.Randomized)
				fixed := toSamples(result.Fixed)

				key := fmt.Sprintf("%s [%s %s]", url, ext, mode)
				verdict, label, err := analysis.Analyse(cfg, randomized, fixed)
				if err != nil {
					fmt.Printf("%s inconclusive: %v (was: %s, label=%s)\n", key, err, result.StatisticsPrediction, result.Label)
					continue
				}

				changed := ""
				if verdict.StatisticsPrediction != result.StatisticsPrediction {
					changed = fmt.Sprintf(" (was %s)", result.StatisticsPrediction)
				}
				fmt.Printf("%s %s%s, label=%s, p=%.4f, t=%.4f\n", key, verdict.StatisticsPrediction, changed, label, verdict.PValue, verdict.TStatistic)
			}
		}
	}

	return nil
}

func toSamples(dtos []sampleFieldDTO) []analysis.Sample {
	out := make([]analysis.Sample, len(dtos))
	for i, d := range dtos {
		out[i] = analysis.Sample{
			TimeDiffMs:   d.TimeDiff,
			CacheStatus1: cacheheader.Status(d.CacheStatus1),
			CacheStatus2: cacheheader.Status(d.CacheStatus2),
		}
	}
	return out
}
