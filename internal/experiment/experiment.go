// Package experiment implements the mode-indexed controller state
// machine: WARM, PROBE_CACHE, IDENTICALITY, RANDOMIZED_ROUND,
// PRIME_FIXED, FIXED_ROUND, ANALYSE, REDIRECT_FOLLOW. For the baseline
// "is there a cache?" experiment the mode set is {direct}; for the WCD
// experiment it is {PATH_PARAMETER, ENCODED_QUESTION, ENCODED_SEMICOLON}
// x {.css}.
package experiment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mgolinelli/wcdscan/internal/analysis"
	"github.com/mgolinelli/wcdscan/internal/cachebuster"
	"github.com/mgolinelli/wcdscan/internal/cacheheader"
	"github.com/mgolinelli/wcdscan/internal/config"
	"github.com/mgolinelli/wcdscan/internal/h2engine"
	"github.com/mgolinelli/wcdscan/internal/httpclient"
	"github.com/mgolinelli/wcdscan/internal/netutil"
	"github.com/mgolinelli/wcdscan/internal/randtoken"
	"github.com/mgolinelli/wcdscan/internal/request"
	"github.com/mgolinelli/wcdscan/internal/runmetrics"
	"github.com/mgolinelli/wcdscan/internal/wcd"
	"github.com/mgolinelli/wcdscan/internal/xerrors"
)

// Mode is one (attack kind, extension) combination the controller
// iterates for a single URL. The zero value is the "direct" baseline
// mode used by the preliminary/hidden-caches experiments.
type Mode struct {
	Kind      string // "" (direct) or a wcd.Mode value
	Extension string
}

// IsDirect reports whether this is the baseline (no attack-URL) mode.
func (m Mode) IsDirect() bool { return m.Kind == "" }

// String names the mode for logging and persisted analysis keys.
func (m Mode) String() string {
	if m.IsDirect() {
		return "direct"
	}
	return fmt.Sprintf("%s%s", m.Kind, m.Extension)
}

// DirectModes is the mode set for the baseline experiment.
var DirectModes = []Mode{{}}

// WCDModes builds the WCD experiment's mode set: every wcd.Mode
// crossed with every configured extension.
func WCDModes(extensions []string) []Mode {
	if len(extensions) == 0 {
		extensions = wcd.DefaultExtensions
	}
	var modes []Mode
	for _, m := range wcd.Modes {
		for _, ext := range extensions {
			modes = append(modes, Mode{Kind: string(m), Extension: ext})
		}
	}
	return modes
}

// Outcome is the final result for one (url, mode) combination.
type Outcome struct {
	Mode       Mode
	Verdict    analysis.Verdict
	Label      string
	Randomized []analysis.Sample
	Fixed      []analysis.Sample
	Skipped    string // non-empty reason this mode was abandoned without a verdict
}

// Controller runs the state machine for one site.
type Controller struct {
	cfg         *config.Config
	http        httpclient.Client
	analysisCfg analysis.Config
	limiter     *rate.Limiter
	baseCookies map[string]string
}

// SetBaseCookies attaches a fixed set of cookies (e.g. a session cookie
// loaded from the CLI's --cookie file) to every request the controller
// builds from here on. Cache-busting still adds its own token cookie on
// top; this only seeds the jar, it doesn't replace Buster.Cookies.
func (c *Controller) SetBaseCookies(cookies map[string]string) {
	c.baseCookies = cookies
}

func (c *Controller) attachBaseCookies(req *request.Request) {
	for k, v := range c.baseCookies {
		req.Cookies[k] = v
	}
}

// New builds a Controller. client is used for every ordinary
// (non-timed) fetch; the H2 timing engine dials its own connections.
func New(cfg *config.Config, client httpclient.Client) *Controller {
	rps := cfg.Conn.RequestsPerSecond
	if rps <= 0 {
		rps = 1000.0 / float64(cfg.Conn.InterRequestMs)
	}
	return &Controller{
		cfg:  cfg,
		http: client,
		analysisCfg: analysis.Config{
			SignificanceLevel:   cfg.Analysis.SignificanceLevel,
			AmplificationFactor: cfg.Analysis.AmplificationFactor,
			OutlierSigma:        cfg.Analysis.OutlierSigma,
			MinUsableSamples:    config.MinUsableFixedSamples,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// WarmResult is what the WARM state observes about a URL: the Vary
// header the later cache-busting passes must echo, plus the response
// itself so the caller can extract links and classify cache headers
// without a second fetch.
type WarmResult struct {
	Vary       string
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Warm issues one ordinary GET and records the observed Vary header.
func (c *Controller) Warm(ctx context.Context, rawURL string) (WarmResult, error) {
	req, err := request.New("GET", rawURL)
	if err != nil {
		return WarmResult{}, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "malformed url")
	}
	c.attachBaseCookies(req)
	resp, err := c.http.Do(ctx, req, true)
	if err != nil {
		return WarmResult{}, err
	}
	return WarmResult{
		Vary:       resp.Headers["Vary"],
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}, nil
}

// Identicality fetches two independently generated attack URLs via
// the ordinary client; if their bodies are the same within tolerance,
// the endpoint is dynamic-free from the attacker's perspective and
// this (mode, extension) should be skipped.
func (c *Controller) Identicality(ctx context.Context, attackURL1, attackURL2 string, maxDiffBytes int) (bool, error) {
	req1, err := request.New("GET", attackURL1)
	if err != nil {
		return false, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "malformed attack url")
	}
	req2, err := request.New("GET", attackURL2)
	if err != nil {
		return false, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "malformed attack url")
	}
	c.attachBaseCookies(req1)
	c.attachBaseCookies(req2)

	resp1, err := c.http.Do(ctx, req1, true)
	if err != nil {
		return false, err
	}
	resp2, err := c.http.Do(ctx, req2, true)
	if err != nil {
		return false, err
	}

	return wcd.Identical(resp1.Body, resp2.Body, maxDiffBytes), nil
}

// pairLoop runs n H2 pairs of freshly busted request variants,
// following up to DefaultRedirectHops redirects on a 3xx on the first
// response of any pair, and returns the collected samples.
func (c *Controller) pairLoop(ctx context.Context, conn *h2engine.Conn, n int, buildPair func() (*request.Request, *request.Request, error)) ([]analysis.Sample, error) {
	samples := make([]analysis.Sample, 0, n)

	for i := 0; i < n; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return samples, xerrors.NewClassifiedError(xerrors.ErrorTypeCanceled, err, "rate limiter wait canceled")
		}

		req1, req2, err := buildPair()
		if err != nil {
			return samples, err
		}

		hops := 0
		for {
			start := time.Now()
			sample, err := conn.SendPair(req1, req2, c.cfg.Conn.RoundTimeout)
			if err != nil {
				runmetrics.ObserveError(xerrors.Classify(err).String())
				runmetrics.ObservePair("pair", "error", time.Since(start))
				return samples, err
			}
			runmetrics.ObservePair("pair", "ok", time.Since(start))

			if sample.Redirect1() && hops < config.DefaultRedirectHops {
				loc := sample.Headers1["location"]
				if loc == "" {
					break
				}
				rewritten, err := rewriteRedirect(req1.URL.String(), loc)
				if err != nil {
					break
				}
				req1, err = request.New(req1.Method, rewritten)
				if err != nil {
					break
				}
				c.attachBaseCookies(req1)
				hops++
				continue
			}

			samples = append(samples, analysis.Sample{
				TimeDiffMs:   sample.TimeDiffMs,
				CacheStatus1: cacheheader.Classify(sample.Headers1),
				CacheStatus2: cacheheader.Classify(sample.Headers2),
			})
			break
		}
	}

	return samples, nil
}

func rewriteRedirect(originalURL, location string) (string, error) {
	base, err := url.Parse(originalURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}

// RandomizedRound builds two independently cache-busted variants of
// baseURL on each iteration; all pairs are expected cache misses and
// the resulting time_diff distribution estimates natural jitter.
func (c *Controller) RandomizedRound(ctx context.Context, conn *h2engine.Conn, buster *cachebuster.Buster, baseURL, vary string, n int, bustPath bool) ([]analysis.Sample, error) {
	return c.pairLoop(ctx, conn, n, func() (*request.Request, *request.Request, error) {
		req1, err := request.New("GET", baseURL)
		if err != nil {
			return nil, nil, err
		}
		req2, err := request.New("GET", baseURL)
		if err != nil {
			return nil, nil, err
		}
		c.attachBaseCookies(req1)
		c.attachBaseCookies(req2)
		if err := buster.Request(req1, vary, bustPath); err != nil {
			return nil, nil, err
		}
		if err := buster.Request(req2, vary, bustPath); err != nil {
			return nil, nil, err
		}
		return req1, req2, nil
	})
}

// PrimeFixed issues the fixed-variant URL over ordinary HTTP until
// either a cache HIT is observed or retries are exhausted.
func (c *Controller) PrimeFixed(ctx context.Context, fixedURL string, retries int) (bool, error) {
	return c.primeFixedRequest(ctx, func() (*request.Request, error) {
		req, err := request.New("GET", fixedURL)
		if err != nil {
			return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "malformed fixed url")
		}
		c.attachBaseCookies(req)
		return req, nil
	}, retries)
}

func (c *Controller) primeFixedRequest(ctx context.Context, build func() (*request.Request, error), retries int) (bool, error) {
	for i := 0; i < retries; i++ {
		req, err := build()
		if err != nil {
			return false, err
		}
		resp, err := c.http.Do(ctx, req, true)
		if err != nil {
			return false, err
		}
		if cacheheader.Classify(resp.Headers) == cacheheader.HIT {
			return true, nil
		}
	}
	return false, nil
}

// FixedRound pairs a freshly randomized variant with the fixed
// variant n times and returns every sample, including ones whose first
// response was itself already a HIT; analysis.Analyse discards those
// before computing a verdict (the fixed slot must be the suspected hit).
// buildFixed must yield the identical request on every call.
func (c *Controller) FixedRound(ctx context.Context, conn *h2engine.Conn, buster *cachebuster.Buster, baseURL string, buildFixed func() (*request.Request, error), vary string, n int, bustPath bool) ([]analysis.Sample, error) {
	return c.pairLoop(ctx, conn, n, func() (*request.Request, *request.Request, error) {
		req1, err := request.New("GET", baseURL)
		if err != nil {
			return nil, nil, err
		}
		c.attachBaseCookies(req1)
		if err := buster.Request(req1, vary, bustPath); err != nil {
			return nil, nil, err
		}
		req2, err := buildFixed()
		if err != nil {
			return nil, nil, err
		}
		return req1, req2, nil
	})
}

// RunMode executes the full state machine for one (url, mode)
// combination over an already-open connection, returning the final
// Outcome. Callers are responsible for WARM and, for WCD modes,
// deriving attackURL1/attackURL2/fixedURL before calling this.
func (c *Controller) RunMode(
	ctx context.Context,
	conn *h2engine.Conn,
	ledger *randtoken.Ledger,
	site string,
	baseURL string,
	fixedURL string,
	vary string,
	mode Mode,
	bustPath bool,
) (Outcome, error) {
	buster := cachebuster.New(site, ledger)

	randomized, err := c.RandomizedRound(ctx, conn, buster, baseURL, vary, c.cfg.Experiment.RequestPairs, bustPath)
	if err != nil {
		return Outcome{Mode: mode}, err
	}

	time.Sleep(config.InterRoundPause)

	// The fixed variant: direct modes cache-bust it once with recorded
	// tokens so every replay is identical; WCD modes use the attack URL
	// as-is, since its token already makes it a stable novel key.
	buildFixed := func() (*request.Request, error) {
		req, err := request.New("GET", fixedURL)
		if err != nil {
			return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "malformed fixed url")
		}
		c.attachBaseCookies(req)
		if mode.IsDirect() {
			if err := buster.FixedRequest(req, vary, bustPath); err != nil {
				return nil, err
			}
		}
		return req, nil
	}

	hit, err := c.primeFixedRequest(ctx, buildFixed, config.DefaultPrimeRetries)
	if err != nil {
		return Outcome{Mode: mode}, err
	}
	if !hit && mode.IsDirect() {
		return Outcome{Mode: mode, Skipped: "PRIME_FIXED exhausted its retry budget without observing a HIT"}, nil
	}

	time.Sleep(config.InterRoundPause)

	fixed, err := c.FixedRound(ctx, conn, buster, baseURL, buildFixed, vary, c.cfg.Experiment.RequestPairs, bustPath)
	if err != nil {
		return Outcome{Mode: mode}, err
	}

	verdict, label, err := analysis.Analyse(c.analysisCfg, randomized, fixed)
	if err != nil {
		return Outcome{Mode: mode, Randomized: randomized, Fixed: fixed, Skipped: err.Error()}, nil
	}

	runmetrics.ObserveVerdict(verdict.StatisticsPrediction)

	return Outcome{
		Mode:       mode,
		Verdict:    verdict,
		Label:      label,
		Randomized: randomized,
		Fixed:      fixed,
	}, nil
}

// ProbeResult is what PROBE_CACHE decided about a URL: whether it
// could confirm the URL is cacheable at all, and if so, which URL and
// busting strategy a caller should use for the rounds that follow.
type ProbeResult struct {
	URL      string
	BustPath bool
	OK       bool
}

// ProbeCache is the preliminary experiment's PROBE_CACHE state: it
// tries to confirm a URL is cacheable by observing a HIT (or a
// MISS-then-HIT transition) directly, then escalates to strong
// (path) cache-busting, then tries appending a static extension, and
// finally gives up. Each attempt reuses PrimeFixed's retry-until-HIT
// loop against a URL that stays stable across retries, since a cache
// only starts returning HIT once the same key has been requested more
// than once.
func (c *Controller) ProbeCache(ctx context.Context, ledger *randtoken.Ledger, site, rawURL string) (ProbeResult, error) {
	retries := config.DefaultPrimeRetries

	if hit, err := c.PrimeFixed(ctx, rawURL, retries); err != nil {
		return ProbeResult{}, err
	} else if hit {
		return ProbeResult{URL: rawURL, BustPath: false, OK: true}, nil
	}

	buster := cachebuster.New(site, ledger)
	strongURL, err := buster.Path(rawURL)
	if err != nil {
		return ProbeResult{}, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "building strong-busted probe url")
	}
	if hit, err := c.PrimeFixed(ctx, strongURL, retries); err != nil {
		return ProbeResult{}, err
	} else if hit {
		return ProbeResult{URL: rawURL, BustPath: true, OK: true}, nil
	}

	cssURL, err := appendStaticExtension(rawURL, ".css")
	if err != nil {
		return ProbeResult{}, xerrors.NewClassifiedError(xerrors.ErrorTypeCrawl, err, "building extension-probe url")
	}
	if hit, err := c.PrimeFixed(ctx, cssURL, retries); err != nil {
		return ProbeResult{}, err
	} else if hit {
		return ProbeResult{URL: cssURL, BustPath: false, OK: true}, nil
	}

	return ProbeResult{}, nil
}

// appendStaticExtension appends ext to rawURL's path, the last resort
// PROBE_CACHE tries before abandoning a URL as uncacheable.
func appendStaticExtension(rawURL, ext string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += ext
	} else {
		u.Path += "probe" + ext
	}
	return u.String(), nil
}

// Dial opens the single H2 connection a URL's modes share, retrying
// transient failures with exponential backoff before giving up.
func Dial(authority string, cfg *config.Config) (*h2engine.Conn, error) {
	retry := netutil.DefaultRetryConfig()
	for {
		conn, err := h2engine.Dial(authority, cfg.Conn.ConnectTimeout, cfg.Conn.TLSSkipVerify)
		if err == nil {
			runmetrics.ObserveConnection("ok")
			return conn, nil
		}
		if !xerrors.IsRetryable(err) || !retry.ShouldRetry() {
			runmetrics.ObserveConnection("error")
			return nil, err
		}
		time.Sleep(retry.NextDelay())
	}
}
