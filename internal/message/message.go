package message

// This file provides the common data objects used by the rest of the
// program.

import "time"

// ID defines the properties that uniquely identify a message.
type ID struct {
	// The permanent and unique ID of a message in the mailbox.
	PermID string

	// The permanent and unique ID of the thread the message
	// belongs to.
	ThreadID string
}

// Message is an immutable snapshot of a mailbox message.  It is
// fetched from the provider and read-only to the pipelines.
type Message struct {
	ID

	// The current set of label identifiers associated with the
	// message.  These identifiers are not the user visible label
	// names!
	LabelIDs []string

	// The From header as reported by the provider.
	From string

	// The Subject header, empty when the message carries none.
	Subject string

	// The plain text body.  Derived from the text/plain part when
	// present, with a text/html fallback.
	Body string

	// The provider's internal receipt time for the message.  Used
	// as the watermark-relevant timestamp.
	Received time.Time
}

// HasLabel reports whether the message currently carries the given
// label identifier.
func (m *Message) HasLabel(labelID string) bool {
	for _, l := range m.LabelIDs {
		if l == labelID {
			return true
		}
	}
	return false
}
