package deletion

import (
	"fmt"
	"math"
	"time"

	"github.com/hourledger/hourledger/internal/shared"
)

// RatePolicy bounds how often one actor may run real deletions.
type RatePolicy struct {
	MaxPerWindow int
	Window       time.Duration
	Cooldown     time.Duration
}

// evaluate returns a RESOURCE_EXHAUSTED error when activity within the window
// breaches the policy at now.
func (p RatePolicy) evaluate(a Activity, now time.Time) error {
	if p.MaxPerWindow > 0 && a.Deletions >= p.MaxPerWindow {
		wait := p.Window
		if a.First != nil {
			wait = a.First.Add(p.Window).Sub(now)
		}
		return rateLimited(fmt.Sprintf("deletion limit reached: %d deletions in %s", a.Deletions, p.Window), wait, map[string]any{
			"reason":       "window",
			"deletions":    a.Deletions,
			"maxPerWindow": p.MaxPerWindow,
			"windowSecs":   int(p.Window.Seconds()),
		})
	}
	if p.Cooldown > 0 && a.Last != nil {
		if since := now.Sub(*a.Last); since < p.Cooldown {
			wait := p.Cooldown - since
			return rateLimited(fmt.Sprintf("wait %ds between deletions", seconds(wait)), wait, map[string]any{
				"reason":       "cooldown",
				"cooldownSecs": int(p.Cooldown.Seconds()),
			})
		}
	}
	return nil
}

func rateLimited(message string, wait time.Duration, details map[string]any) error {
	details["retryAfterSeconds"] = seconds(wait)
	return shared.ResourceExhausted(message, details)
}

// seconds rounds d up to whole seconds, never below one.
func seconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
