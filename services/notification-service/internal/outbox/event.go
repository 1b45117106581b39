package outbox

// Event is the domain event envelope written to the outbox table. The Kafka
// topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by notification-service.
const (
	TopicNotificationSent   = "notification.sent.v1"
	TopicNotificationFailed = "notification.failed.v1"
)
