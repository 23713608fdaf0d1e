package event_bus

// Hangout lifecycle events. Payload types live in pkg/hangout next to the service that
// publishes them.
const (
	HangoutCreated       EventType = "hangout.created"
	HangoutUpdated       EventType = "hangout.updated"
	HangoutDeleted       EventType = "hangout.deleted"
	HangoutDisassociated EventType = "hangout.disassociated"
	HangoutChildMutated  EventType = "hangout.child_mutated"
)
