package reminder

import "time"

// Defaults for Policy.
const (
	DefaultThresholdDays   = 330
	DefaultResendAfterDays = 2
)

// Policy decides when a credential reminder fires.
type Policy struct {
	// ThresholdDays since the credential change at which a reminder is due.
	ThresholdDays int `yaml:"threshold_days"`
	// ResendAfterDays must be strictly exceeded since the last reminder.
	ResendAfterDays int `yaml:"resend_after_days"`
}

// DefaultPolicy returns the 330/2 day policy.
func DefaultPolicy() Policy {
	return Policy{ThresholdDays: DefaultThresholdDays, ResendAfterDays: DefaultResendAfterDays}
}

// Decision is the outcome of evaluating a Policy.
type Decision struct {
	Due             bool `json:"due"`
	Send            bool `json:"send"`
	DaysSinceChange int  `json:"days_since_change"`
	// DaysSinceLast is -1 when no reminder was ever sent.
	DaysSinceLast int `json:"days_since_last"`
}

// Decide evaluates p at now. hasLastSent is false when no reminder has been
// sent yet, in which case a due reminder is always sent.
func Decide(now, changed, lastSent time.Time, hasLastSent bool, p Policy) Decision {
	d := Decision{DaysSinceChange: DaysBetween(now, changed), DaysSinceLast: -1}
	if hasLastSent {
		d.DaysSinceLast = DaysBetween(now, lastSent)
	}
	d.Due = d.DaysSinceChange >= p.ThresholdDays
	if !d.Due {
		return d
	}
	d.Send = !hasLastSent || d.DaysSinceLast > p.ResendAfterDays
	return d
}
