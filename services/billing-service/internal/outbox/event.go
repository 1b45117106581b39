package outbox

// Topics published by billing. Entitlement consumers in account and
// booking project these into their local caches.
const (
	TopicSubscriptionActivated   = "billing.subscription.activated.v1"
	TopicSubscriptionDeactivated = "billing.subscription.deactivated.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
