package rotation

import "time"

// Weighted fitness model: success rate dominates, account age and baseline
// activity nudge the ranking, penalties multiply the whole thing down.
const (
	weightSuccessRate = 0.7
	weightAge         = 0.2
	weightActivity    = 0.1

	rateLimitPenaltyStep = 0.1
	banPenaltyStep       = 0.2
)

func fitnessScore(a *Account, now time.Time, tiers []CooldownTier) float64 {
	ageScore := float64(a.AgeDays) / 365.0
	if ageScore > 1.0 {
		ageScore = 1.0
	}

	base := a.SuccessRate*weightSuccessRate + ageScore*weightAge + a.Activity*weightActivity

	return base *
		cooldownPenalty(a.LastUsed, now, tiers) *
		stepPenalty(a.RateLimitCount, rateLimitPenaltyStep) *
		stepPenalty(a.BannedCount, banPenaltyStep)
}

// cooldownPenalty returns the multiplier for the first tier whose window
// covers the time since last use. Never-used accounts pay no penalty.
func cooldownPenalty(lastUsed *time.Time, now time.Time, tiers []CooldownTier) float64 {
	if lastUsed == nil {
		return 1.0
	}
	since := now.Sub(*lastUsed)
	for _, t := range tiers {
		if since < t.Within {
			return t.Penalty
		}
	}
	return 1.0
}

func stepPenalty(count int, step float64) float64 {
	p := 1.0 - float64(count)*step
	if p < 0 {
		return 0
	}
	return p
}
