package events

// Topic constants for domain events emitted by the platform.
const (
	TopicSubscriptionCreated   = "subscription.created"
	TopicSubscriptionActivated = "subscription.activated"
	TopicSubscriptionRenewed   = "subscription.renewed"
	TopicSubscriptionExpired   = "subscription.expired"
	TopicPaymentPaid           = "payment.paid"
	TopicPaymentFailed         = "payment.failed"
	TopicPaymentExpired        = "payment.expired"
	TopicPromocodeRedeemed     = "promocode.redeemed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicSubscriptionCreated,
		TopicSubscriptionActivated,
		TopicSubscriptionRenewed,
		TopicSubscriptionExpired,
		TopicPaymentPaid,
		TopicPaymentFailed,
		TopicPaymentExpired,
		TopicPromocodeRedeemed,
	}
}
