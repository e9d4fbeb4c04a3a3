package message

import (
	"iter"
	"time"
)

type Sender string

const (
	SenderSystem Sender = "system"
	SenderUser   Sender = "user"
)

// Message is one transcript entry. Values are never modified after they are
// appended to a history.
type Message struct {
	Seq            int       `json:"seq"`
	Sender         Sender    `json:"sender"`
	Body           string    `json:"body"`
	ReferenceVideo string    `json:"reference_video,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m Message) Segments() iter.Seq[Segment] {
	return ParseEmbeddedReference(m.Body)
}
