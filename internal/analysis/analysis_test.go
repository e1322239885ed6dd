package analysis

import (
	"math"
	"testing"

	"github.com/mgolinelli/wcdscan/internal/cacheheader"
)

func samplesOf(diffs ...float64) []Sample {
	out := make([]Sample, len(diffs))
	for i, d := range diffs {
		out[i] = Sample{TimeDiffMs: d}
	}
	return out
}

func TestTrimOutliersRemovesFarPoints(t *testing.T) {
	s := samplesOf(1, 1.1, 0.9, 1.2, 1.05, 0.95, 1.15, 0.85, 1.0, 1000)
	trimmed := trimOutliers(s, 2.0)
	for _, x := range trimmed {
		if x.TimeDiffMs == 1000 {
			t.Fatal("expected the 1000ms outlier to be trimmed")
		}
	}
	if len(trimmed) != 9 {
		t.Errorf("len(trimmed) = %d, want 9", len(trimmed))
	}
}

func TestDiscardFixedHits(t *testing.T) {
	fixed := []Sample{
		{TimeDiffMs: -1, CacheStatus1: cacheheader.HIT},
		{TimeDiffMs: -1, CacheStatus1: cacheheader.MISS},
		{TimeDiffMs: -1, CacheStatus1: cacheheader.Unknown},
	}
	out := discardFixedHits(fixed)
	if len(out) != 2 {
		t.Errorf("len(out) = %d, want 2", len(out))
	}
}

func TestPredictPositiveFixedMeanIsNoCache(t *testing.T) {
	cfg := DefaultConfig()
	randomized := samplesOf(0.1, -0.2, 0.15, -0.1, 0.05)
	fixed := samplesOf(5, 4, 6, 5.5, 4.5)

	v, err := Predict(cfg, randomized, fixed)
	if err != nil {
		t.Fatal(err)
	}
	if v.StatisticsPrediction != predictionNoCache {
		t.Errorf("prediction = %q, want %q", v.StatisticsPrediction, predictionNoCache)
	}
}

func TestPredictStrongNegativeFixedIsCache(t *testing.T) {
	cfg := DefaultConfig()
	randomized := samplesOf(0.1, -0.2, 0.15, -0.1, 0.05, 0.2, -0.15, 0.1, -0.05, 0.12)
	fixed := samplesOf(-50, -48, -52, -49, -51, -47, -53, -50, -49, -52)

	v, err := Predict(cfg, randomized, fixed)
	if err != nil {
		t.Fatal(err)
	}
	if v.StatisticsPrediction != predictionCache {
		t.Errorf("prediction = %q, want %q (t=%v p=%v)", v.StatisticsPrediction, predictionCache, v.TStatistic, v.PValue)
	}
}

func TestPredictInsufficientSamples(t *testing.T) {
	cfg := DefaultConfig()
	_, err := Predict(cfg, nil, samplesOf(1, 2))
	if err == nil {
		t.Fatal("expected an error for an empty randomized bucket")
	}
}

func TestLabelDefaultsToNoCacheWhenHitOrMissSeen(t *testing.T) {
	randomized := []Sample{{CacheStatus1: cacheheader.MISS}}
	fixed := []Sample{{CacheStatus2: cacheheader.Unknown}}
	if got := Label(randomized, fixed); got != predictionNoCache {
		t.Errorf("Label() = %q, want %q", got, predictionNoCache)
	}
}

func TestLabelOverriddenToCacheWhenFixedSecondMostlyHit(t *testing.T) {
	fixed := []Sample{
		{CacheStatus2: cacheheader.HIT},
		{CacheStatus2: cacheheader.HIT},
		{CacheStatus2: cacheheader.MISS},
	}
	if got := Label(nil, fixed); got != predictionCache {
		t.Errorf("Label() = %q, want %q", got, predictionCache)
	}
}

func TestLabelUnknownWithNoHeaderEvidence(t *testing.T) {
	fixed := []Sample{{CacheStatus1: cacheheader.Unknown, CacheStatus2: cacheheader.Unknown}}
	if got := Label(nil, fixed); got != "Unknown" {
		t.Errorf("Label() = %q, want Unknown", got)
	}
}

func TestWelchTTestKnownSeparation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{10, 11, 12, 13, 14}
	tt, p := welchTTest(a, b)
	if tt >= 0 {
		t.Errorf("expected a negative t statistic for a < b, got %v", tt)
	}
	if p > 0.01 {
		t.Errorf("expected a small p-value for well-separated samples, got %v", p)
	}
}

func TestWelchTTestIdenticalSamplesHighPValue(t *testing.T) {
	a := []float64{1, 1.1, 0.9, 1.05, 0.95}
	b := []float64{1, 1.1, 0.9, 1.05, 0.95}
	_, p := welchTTest(a, b)
	if math.Abs(p-1) > 1e-6 {
		t.Errorf("expected p close to 1 for identical samples, got %v", p)
	}
}

func TestAnalyseEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	randomized := samplesOf(0.1, -0.2, 0.15, -0.1, 0.05, 0.2, -0.15, 0.1, -0.05, 0.12)
	fixed := make([]Sample, 0)
	for _, d := range []float64{-50, -48, -52, -49, -51, -47, -53, -50, -49, -52} {
		fixed = append(fixed, Sample{TimeDiffMs: d, CacheStatus1: cacheheader.MISS, CacheStatus2: cacheheader.HIT})
	}

	verdict, label, err := Analyse(cfg, randomized, fixed)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.StatisticsPrediction != predictionCache {
		t.Errorf("StatisticsPrediction = %q, want CACHE", verdict.StatisticsPrediction)
	}
	if label != predictionCache {
		t.Errorf("label = %q, want CACHE", label)
	}
}
