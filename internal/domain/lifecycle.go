package domain

import "time"

// RemovalCooldownMonths is how long a paid member keeps their membership after completion.
const RemovalCooldownMonths = 12

// RemovalSchedule tracks the post-payout deactivation of a membership.
type RemovalSchedule struct {
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Removed        bool       `json:"removed"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
	ReactivatedAt  *time.Time `json:"reactivated_at,omitempty"`
	NewTenureStart *time.Time `json:"new_tenure_start,omitempty"`
}

// ScheduledRemovalDate is the completion date plus twelve calendar months.
func ScheduledRemovalDate(completedAt time.Time) time.Time {
	return completedAt.AddDate(0, RemovalCooldownMonths, 0)
}

// NewRemovalSchedule builds the schedule for a completed payout. Same input, same date.
func NewRemovalSchedule(completedAt time.Time) *RemovalSchedule {
	return &RemovalSchedule{ScheduledFor: ScheduledRemovalDate(completedAt)}
}

// IsDue reports whether the schedule should be executed at now.
func (s *RemovalSchedule) IsDue(now time.Time) bool {
	if s == nil || s.Removed {
		return false
	}
	return !s.ScheduledFor.After(now)
}

// IsRemovalDue reports whether p is a completed payout whose removal is due at now.
func IsRemovalDue(p Payout, now time.Time) bool {
	return p.Status == PayoutCompleted && p.Processing.RemovalSchedule.IsDue(now)
}

// DueRemovals filters payouts down to those due for removal.
func DueRemovals(payouts []Payout, now time.Time) []Payout {
	due := make([]Payout, 0)
	for _, p := range payouts {
		if IsRemovalDue(p, now) {
			due = append(due, p)
		}
	}
	return due
}
