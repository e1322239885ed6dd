// Package randtoken provides the cache-buster's unique-token source.
//
// The standard math/rand package uses a global mutex-protected source,
// which can become a bottleneck under high concurrency. This package
// gives each caller a pooled *rand.Rand, then layers a collision-checked
// Ledger on top for the process-lifetime uniqueness guarantee the
// cache buster requires.
package randtoken

import (
	"math/rand"
	"sync"
	"time"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// pool maintains a pool of *rand.Rand instances for reuse.
var pool = sync.Pool{
	New: func() interface{} {
		return rand.New(rand.NewSource(time.Now().UnixNano() + int64(rand.Int63())))
	},
}

// Rand represents a pooled random source that should be released after use.
type Rand struct {
	*rand.Rand
}

// Get retrieves a random source from the pool. The caller MUST call
// Release() when done, typically via defer.
func Get() *Rand {
	return &Rand{Rand: pool.Get().(*rand.Rand)}
}

// Release returns the random source to the pool.
func (r *Rand) Release() {
	if r.Rand != nil {
		pool.Put(r.Rand)
		r.Rand = nil
	}
}

var (
	detMu     sync.Mutex
	detSource *rand.Rand
)

// Seed switches every subsequent token (in every Ledger, process-wide)
// to a deterministic source seeded with seed, so that --reproducible
// runs issue identical cache-busting tokens across invocations. Call
// it once at startup before any Ledger.Next(); it is not meant to be
// toggled mid-run.
func Seed(seed int64) {
	detMu.Lock()
	defer detMu.Unlock()
	detSource = rand.New(rand.NewSource(seed))
}

// randomString returns a random alphabetic string of the given length,
// drawing from the deterministic source if Seed was called, otherwise
// from the pooled per-call source.
func randomString(length int) string {
	detMu.Lock()
	src := detSource
	detMu.Unlock()

	if src != nil {
		detMu.Lock()
		defer detMu.Unlock()
		b := make([]byte, length)
		for i := range b {
			b[i] = alphabet[src.Intn(len(alphabet))]
		}
		return string(b)
	}

	rng := Get()
	defer rng.Release()

	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}
