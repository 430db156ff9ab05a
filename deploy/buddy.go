package deploy

import (
	"fmt"
	"time"

	samson "github.com/zendesk/samson-sub001"
)

// DefaultBuddyTimeLimit is how long a deploy waits for a buddy before the
// request expires.
const DefaultBuddyTimeLimit = 20 * time.Minute

// BuddyCheck decides which deploys need a second person to approve them.
type BuddyCheck struct {
	Enabled   bool
	TimeLimit time.Duration
}

// BuddyCheckFromConfig converts the configured buddy check.
func BuddyCheckFromConfig(c samson.BuddyCheckConfig) BuddyCheck {
	b := BuddyCheck{Enabled: c.Enabled, TimeLimit: c.TimeLimit}
	if b.TimeLimit <= 0 {
		b.TimeLimit = DefaultBuddyTimeLimit
	}
	return b
}

// RequiresApproval reports whether deploys to stage wait for a buddy.
func (b BuddyCheck) RequiresApproval(stage *Stage) bool {
	return b.Enabled && stage.Production && !stage.NoCodeDeployed
}

// Expired reports whether the buddy request of d timed out at now.
func (b BuddyCheck) Expired(d *Deploy, now time.Time) bool {
	limit := b.TimeLimit
	if limit <= 0 {
		limit = DefaultBuddyTimeLimit
	}
	return now.Sub(d.CreatedAt) > limit
}

// Approve records buddy as the approver of d.
func (b BuddyCheck) Approve(d *Deploy, buddy string, now time.Time) error {
	switch {
	case !d.WaitingForBuddy():
		return fmt.Errorf("deploy %s: %w", d.ID, samson.ErrNotWaitingForBuddy)
	case buddy == "":
		return fmt.Errorf("deploy %s: buddy: %w", d.ID, samson.ErrInvalidRequest)
	case buddy == d.Deployer:
		return fmt.Errorf("deploy %s: %w", d.ID, samson.ErrSelfApproval)
	case b.Expired(d, now):
		return fmt.Errorf("deploy %s: %w", d.ID, samson.ErrBuddyExpired)
	}
	d.Buddy = buddy
	return nil
}
