package outbox

// Event is the domain event envelope written to the outbox table. The Kafka
// topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by booking-service.
const (
	TopicMeetingBooked    = "booking.meeting.booked.v1"
	TopicMeetingCancelled = "booking.meeting.cancelled.v1"
)
