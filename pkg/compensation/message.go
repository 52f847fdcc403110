package compensation

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/billingsync/pkg/plan"
)

func message(reason Reason, previous, next plan.Tier, deactivated int) (title, body string) {
	var b strings.Builder
	switch reason {
	case ReasonSubscriptionExpired:
		title = "Your subscription has expired"
		fmt.Fprintf(&b, "Your %s subscription has ended and your account is now on the %s plan.", tierName(previous), tierName(next))
	case ReasonTransfer:
		title = "Your subscription moved to another account"
		fmt.Fprintf(&b, "Your %s subscription was transferred and this account is now on the %s plan.", tierName(previous), tierName(next))
	default:
		title = "Your plan has changed"
		fmt.Fprintf(&b, "Your plan changed from %s to %s.", tierName(previous), tierName(next))
	}

	switch {
	case deactivated == 1:
		b.WriteString(" 1 item was deactivated to fit the new plan limits.")
	case deactivated > 1:
		fmt.Fprintf(&b, " %d items were deactivated to fit the new plan limits.", deactivated)
	}
	return title, b.String()
}

func tierName(t plan.Tier) string {
	s := t.String()
	if s == "" {
		return "Free"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
