package config

import "time"

// =============================================================================
// Network Constants
// =============================================================================

const (
	// DefaultConnectTimeout is the default timeout for establishing the
	// TLS+HTTP/2 connection used by the timing engine.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout bounds ordinary (non-timed) HTTP fetches.
	DefaultReadTimeout = 30 * time.Second
)

// =============================================================================
// H2 Timing Engine Constants
// =============================================================================

const (
	// DefaultInterRequestMs separates request pairs within a round.
	DefaultInterRequestMs = 100

	// DefaultRoundTimeout is the wall-clock budget for one measurement round.
	DefaultRoundTimeout = 30 * time.Second

	// DefaultTokenLength is the length of cache-buster tokens in characters.
	DefaultTokenLength = 5
)

// =============================================================================
// Round Sizing
// =============================================================================

const (
	// DefaultRequestPairs is the number of pairs per randomized/fixed round.
	DefaultRequestPairs = 10

	// MinUsableFixedSamples is the minimum surviving fixed samples before a
	// verdict is declared inconclusive.
	MinUsableFixedSamples = 5

	// DefaultPrimeRetries is the retry budget for PRIME_FIXED.
	DefaultPrimeRetries = 5

	// DefaultRedirectHops is the max redirects followed for one pair.
	DefaultRedirectHops = 5
)

// =============================================================================
// Analyser Constants
// =============================================================================

const (
	// DefaultSignificanceLevel is the t-test alpha, deliberately tight.
	DefaultSignificanceLevel = 0.01

	// DefaultAmplificationFactor multiplies negative fixed-round samples
	// before the t-test; an empirical, documented deviation from a
	// textbook two-sample test, carried over from the original heuristic.
	DefaultAmplificationFactor = 5.0

	// OutlierSigmaFactor is the trim threshold in standard deviations.
	OutlierSigmaFactor = 2.0

	// DefaultIdenticalityToleranceBytes is the identicality pre-check's
	// byte-difference budget: 0 means the two attack-URL response bodies
	// must match exactly to skip a mode as dynamic-free.
	DefaultIdenticalityToleranceBytes = 0
)

// =============================================================================
// Crawl Budgets
// =============================================================================

const (
	// DefaultMaxURLs is the per-run URL budget.
	DefaultMaxURLs = 10

	// DefaultMaxDomains is the per-run domain cap.
	DefaultMaxDomains = 10
)

// DefaultWCDExtensions is the extension set the WCD experiment tries
// against each attack-URL mode.
var DefaultWCDExtensions = []string{".css"}

// DefaultReproducibleSeed is the fixed PRNG seed --reproducible runs
// use so two invocations against the same site issue identical
// cache-busting tokens.
const DefaultReproducibleSeed = 42

// =============================================================================
// Fleet Launcher Constants
// =============================================================================

const (
	// DefaultLaunchMax is the default number of concurrent worker processes.
	DefaultLaunchMax = 5

	// DefaultLaunchTimeout bounds each worker process.
	DefaultLaunchTimeout = 5 * time.Minute
)

// =============================================================================
// Backoff Constants
// =============================================================================

const (
	// BaseBackoffDelay is the base delay for exponential backoff on reconnect.
	BaseBackoffDelay = 1 * time.Second

	// MaxBackoffDelay is the maximum backoff delay.
	MaxBackoffDelay = 30 * time.Second

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier = 2.0

	// BackoffJitterRatio randomizes each backoff delay by up to this
	// fraction, avoiding synchronized retries across fleet workers.
	BackoffJitterRatio = 0.2
)

// =============================================================================
// Retry Constants
// =============================================================================

const (
	// ReconnectDelay is the delay before an H2 reconnection attempt.
	ReconnectDelay = 100 * time.Millisecond

	// MaxReconnectAttempts is the maximum number of reconnection attempts.
	MaxReconnectAttempts = 3

	// InterRoundPause is the pause between successive rounds.
	InterRoundPause = 500 * time.Millisecond
)
