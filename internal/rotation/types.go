package rotation

import "time"

// Status is the lifecycle state of a pool account.
//
// Only LIVE accounts are eligible for selection. The other states are
// terminal for selection but the account stays in the pool so its
// statistics remain inspectable.
type Status string

const (
	StatusLive         Status = "LIVE"
	StatusBanned       Status = "BANNED"
	StatusFloodWait    Status = "FLOOD_WAIT"
	StatusUnauthorized Status = "UNAUTHORIZED"
)

// Account is one worker identity and its fitness statistics.
//
// Invariant: SuccessfulActions <= TotalActions, and SuccessRate is always
// recomputed from the two counters once any action has been recorded.
type Account struct {
	Phone      string
	SessionRef string
	ProxyRef   string

	Status Status

	SuccessRate float64
	AgeDays     int
	Activity    float64

	// LastUsed is nil until the account is first handed out.
	LastUsed *time.Time

	TotalActions      int
	SuccessfulActions int
	BannedCount       int
	RateLimitCount    int
}

// Stats is the aggregate view over the whole pool.
type Stats struct {
	Total          int
	Live           int
	Banned         int
	AvgSuccessRate float64
}

// AccountEvent is published on the event bus when an account changes status.
type AccountEvent struct {
	Phone  string `json:"phone"`
	Status Status `json:"status"`
}

// CooldownTier maps "used within the last Within" to a score multiplier.
// Tiers are evaluated in order; the first match wins, so tighter windows
// must come first to carry the harsher penalty.
type CooldownTier struct {
	Within  time.Duration
	Penalty float64
}

// DefaultCooldownTiers applies 0.3 inside 30 minutes and 0.5 inside an
// hour. The 30-minute tier must stay first or it can never match.
func DefaultCooldownTiers() []CooldownTier {
	return []CooldownTier{
		{Within: 30 * time.Minute, Penalty: 0.3},
		{Within: time.Hour, Penalty: 0.5},
	}
}

const (
	defaultAgeDays  = 30
	defaultActivity = 0.8
)
