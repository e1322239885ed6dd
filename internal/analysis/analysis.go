// Package analysis turns the randomized/fixed sample buckets an
// experiment collects into a CACHE / NO cache statistics_prediction
// and a corroborating, header-derived label.
package analysis

import (
	"math"

	"github.com/mgolinelli/wcdscan/internal/cacheheader"
	"github.com/mgolinelli/wcdscan/internal/xerrors"
)

// Sample is one recorded measurement. TimeDiffMs keeps full precision
// here; persist.ToDTO rounds it to hundredths of a millisecond when the
// reports are written.
type Sample struct {
	TimeDiffMs   float64
	CacheStatus1 cacheheader.Status
	CacheStatus2 cacheheader.Status
}

// Config controls the thresholds the analyser applies. Zero-value
// fields are replaced by DefaultConfig's values at call time only if
// the caller uses DefaultConfig(); Analyse takes a Config by value, so
// pass the result of DefaultConfig() and override only what matters.
type Config struct {
	SignificanceLevel   float64
	AmplificationFactor float64
	OutlierSigma        float64
	MinUsableSamples    int
}

// DefaultConfig returns the thresholds the command line uses unless
// overridden.
func DefaultConfig() Config {
	return Config{
		SignificanceLevel:   0.01,
		AmplificationFactor: 5.0,
		OutlierSigma:        2.0,
		MinUsableSamples:    5,
	}
}

// Verdict is the outcome for one (url, extension, mode) combination.
type Verdict struct {
	StatisticsPrediction string
	Label                string
	TStatistic           float64
	PValue               float64
	RandomizedMean       float64
	FixedMean            float64
}

const (
	predictionCache   = "CACHE"
	predictionNoCache = "NO cache"
)

// trimOutliers removes samples whose time_diff lies more than
// sigma standard deviations from the bucket's mean, computed in a
// single pass (not iteratively re-trimmed).
func trimOutliers(samples []Sample, sigma float64) []Sample {
	if len(samples) == 0 {
		return samples
	}
	diffs := make([]float64, len(samples))
	for i, s := range samples {
		diffs[i] = s.TimeDiffMs
	}
	m := mean(diffs)
	sd := math.Sqrt(popVariance(diffs, m))

	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if math.Abs(s.TimeDiffMs-m) < sigma*sd {
			out = append(out, s)
		}
	}
	return out
}

// discardFixedHits drops fixed-round samples whose first response was
// itself already a cache hit — the fixed slot must pair a forced miss
// with the suspected hit, never hit-hit.
func discardFixedHits(fixed []Sample) []Sample {
	out := make([]Sample, 0, len(fixed))
	for _, s := range fixed {
		if s.CacheStatus1 == cacheheader.HIT {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Predict runs the outlier trim, Welch's t-test with amplification,
// and returns the CACHE/NO-cache statistical verdict. It returns an
// AnalysisError when either bucket is empty after trimming.
func Predict(cfg Config, randomized, fixed []Sample) (Verdict, error) {
	trimmedRandom := trimOutliers(randomized, cfg.OutlierSigma)
	trimmedFixed := trimOutliers(fixed, cfg.OutlierSigma)

	if len(trimmedRandom) == 0 || len(trimmedFixed) == 0 {
		return Verdict{}, xerrors.NewAnalysisError("insufficient samples after outlier trim")
	}

	randDiffs := diffsOf(trimmedRandom)
	fixedDiffs := diffsOf(trimmedFixed)

	randomMean := mean(randDiffs)
	fixedMean := mean(fixedDiffs)

	if fixedMean > 0 {
		// A cache HIT on request 2 produces a negative time_diff; a
		// positive fixed-round mean refutes the hypothesis outright,
		// without needing the t-test at all.
		return Verdict{
			StatisticsPrediction: predictionNoCache,
			RandomizedMean:       randomMean,
			FixedMean:            fixedMean,
		}, nil
	}

	// Amplification only sharpens a consistent negative skew; a mean of
	// exactly zero goes into the t-test unamplified.
	amplified := make([]float64, len(fixedDiffs))
	for i, d := range fixedDiffs {
		if fixedMean < 0 {
			amplified[i] = d * cfg.AmplificationFactor
		} else {
			amplified[i] = d
		}
	}

	t, p := welchTTest(randDiffs, amplified)

	prediction := predictionNoCache
	if p <= cfg.SignificanceLevel {
		prediction = predictionCache
	}

	return Verdict{
		StatisticsPrediction: prediction,
		TStatistic:           t,
		PValue:               p,
		RandomizedMean:       randomMean,
		FixedMean:            fixedMean,
	}, nil
}

// Label derives the header-corroborated label independent of the
// statistical prediction: any HIT or MISS seen anywhere defaults the
// label to NO cache, unless the fixed round's second response is HIT
// more often than MISS, in which case it is overridden to CACHE.
func Label(randomized, fixed []Sample) string {
	label := "Unknown"

	if anyHitOrMiss(randomized) || anyHitOrMiss(fixed) {
		label = predictionNoCache
	}

	hits, misses := 0, 0
	for _, s := range fixed {
		switch s.CacheStatus2 {
		case cacheheader.HIT:
			hits++
		case cacheheader.MISS:
			misses++
		}
	}
	if hits > misses {
		label = predictionCache
	}

	return label
}

func anyHitOrMiss(samples []Sample) bool {
	for _, s := range samples {
		if s.CacheStatus1 == cacheheader.HIT || s.CacheStatus2 == cacheheader.HIT ||
			s.CacheStatus1 == cacheheader.MISS || s.CacheStatus2 == cacheheader.MISS {
			return true
		}
	}
	return false
}

// Analyse runs both discardFixedHits + Predict + Label for one
// (url, extension, mode) bucket, the single entry point callers use.
func Analyse(cfg Config, randomized, fixed []Sample) (Verdict, string, error) {
	usableFixed := discardFixedHits(fixed)
	if len(usableFixed) < cfg.MinUsableSamples {
		return Verdict{}, "", xerrors.NewAnalysisError("fewer than the minimum usable fixed samples survived")
	}

	verdict, err := Predict(cfg, randomized, usableFixed)
	if err != nil {
		return Verdict{}, "", err
	}

	label := Label(randomized, usableFixed)
	return verdict, label, nil
}

func diffsOf(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.TimeDiffMs
	}
	return out
}
