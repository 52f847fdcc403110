package referral

import "errors"

var (
	ErrNoReferrer   = errors.New("referral: user was not referred")
	ErrSelfReferral = errors.New("referral: user cannot refer themselves")
	ErrGrantFailed  = errors.New("referral: failed to record grant")
)
