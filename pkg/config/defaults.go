package config

import "time"

// Centralized defaults for the gateway core. Anything tunable from the
// environment lives in Config; these constants are the fallback values and
// the few knobs that are deliberately not configurable.

const (
	// DefaultBaseURL is the public Sefaria API root.
	DefaultBaseURL = "https://www.sefaria.org/api"

	// DefaultRequestTimeout bounds a single upstream attempt.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultMaxRetries is the total attempts per request, first try included.
	DefaultMaxRetries = 3

	// DefaultCacheTTL is how long a cached thinned response stays fresh.
	DefaultCacheTTL = time.Hour

	// DefaultCacheCapacity is the entry cap before LRU eviction.
	DefaultCacheCapacity = 3000

	// DefaultMaxPayloadBytes is the ceiling any single thinned payload must
	// serialize under.
	DefaultMaxPayloadBytes = 120_000

	// DefaultTurnBudgetBytes is the cumulative byte ceiling handed to the LLM
	// across all tool results in one conversational turn.
	DefaultTurnBudgetBytes = 110_000

	// DefaultCycleHistory is the bounded tool-call history the cycle detector
	// keeps per turn.
	DefaultCycleHistory = 6

	// DefaultRepeatThreshold is how many identical trailing calls count as an
	// unproductive cycle.
	DefaultRepeatThreshold = 3

	// DefaultPreferredLang / DefaultFallbackLang select translation versions.
	DefaultPreferredLang = "ru"
	DefaultFallbackLang  = "en"

	// DefaultUpstreamRPS / DefaultUpstreamBurst throttle calls to the public
	// API as a courtesy; the gateway waits rather than rejects.
	DefaultUpstreamRPS   = 8
	DefaultUpstreamBurst = 16

	// RetryBaseDelay seeds the exponential backoff: base * 2^attempt.
	RetryBaseDelay = 500 * time.Millisecond
)
