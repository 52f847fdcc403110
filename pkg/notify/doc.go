// Package notify delivers user-facing notifications about subscription
// changes.
//
// A Notifier fans a notification out to every configured Deliverer. Delivery
// is best effort: the notification counts as delivered when at least one
// channel accepted it.
//
//	gw, err := notify.NewGatewayDeliverer(gatewayURL, notify.WithSigningSecret(secret))
//	if err != nil {
//		return err
//	}
//	n := notify.New([]notify.Deliverer{gw}, notify.WithLogger(log))
//
//	res, err := n.Notify(ctx, userID, "Plan changed", "Your plan is now free.", map[string]string{
//		"reason": "subscription_expired",
//	})
//
// GatewayDeliverer posts JSON to an HTTP push gateway, retrying transient
// failures with exponential backoff. MemoryDeliverer records notifications
// in process and is meant for tests and local runs.
package notify
