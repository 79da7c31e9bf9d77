package ledger

import "time"

// LockoutPolicy is the rolling account-lockout rule: MaxFailures failed
// attempts inside FailureWindow lock the account for LockoutDuration
// measured from the most recent failure. A successful login does not reset
// the counter; only the rolling window expires failures.
type LockoutPolicy struct {
	MaxFailures     int
	FailureWindow   time.Duration
	LockoutDuration time.Duration
}

// LockStatus is the result of evaluating the policy against the attempt
// ledger.
type LockStatus struct {
	Locked        bool
	FailureCount  int
	LockoutEndsAt time.Time
}

// Evaluate applies the policy to a failure count and the time of the most
// recent failure, both taken from attempts recorded inside the rolling
// window ending at now.
func (p LockoutPolicy) Evaluate(failures int, lastFailure time.Time, now time.Time) LockStatus {
	status := LockStatus{FailureCount: failures}
	if failures < p.MaxFailures {
		return status
	}

	endsAt := lastFailure.Add(p.LockoutDuration)
	if !now.Before(endsAt) {
		// Lockout period elapsed with no newer failures inside the window.
		return status
	}

	status.Locked = true
	status.LockoutEndsAt = endsAt
	return status
}

// WindowStart returns the beginning of the rolling failure window ending
// at now.
func (p LockoutPolicy) WindowStart(now time.Time) time.Time {
	return now.Add(-p.FailureWindow)
}
