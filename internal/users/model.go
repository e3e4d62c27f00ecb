package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subscription tiers as stored in users.subscription_tier.
const (
	TierFree     = "free"
	TierLifetime = "lifetime"
	premiumTier  = "premium_"
)

type User struct {
	ID                    uuid.UUID  `json:"id"`
	Email                 string     `json:"email"`
	SubscriptionTier      string     `json:"subscription_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	GracePeriodEndsAt     *time.Time `json:"grace_period_ends_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsPremium reports whether the user is on an unlimited plan at the given instant.
// A running grace period counts as premium, lifetime never expires, and
// premium_* tiers need an expiry after now.
func (u *User) IsPremium(now time.Time) bool {
	if u.GracePeriodEndsAt != nil && now.Before(*u.GracePeriodEndsAt) {
		return true
	}

	switch {
	case u.SubscriptionTier == TierLifetime:
		return true
	case strings.HasPrefix(u.SubscriptionTier, premiumTier):
		return u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.After(now)
	default:
		return false
	}
}
