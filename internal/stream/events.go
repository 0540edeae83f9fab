package stream

import "github.com/arashpx/seekly/internal/fragment"

// EventType names one SSE event on the chat stream.
type EventType string

const (
	EventResponseMetadata EventType = "ResponseMetadata"
	EventChatTitleUpdate  EventType = "ChatTitleUpdate"
	EventReasoning        EventType = "Reasoning"
	EventStart            EventType = "Start"
	EventResponseUpdate   EventType = "ResponseUpdate"
	EventCitationsUpdate  EventType = "CitationsUpdate"
	EventError            EventType = "Error"
	EventEnd              EventType = "End"
)

// Event is one unit written to the client stream.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// MetadataPayload opens the stream with ids the client needs for follow-ups.
type MetadataPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Model     string `json:"model"`
}

// TitlePayload carries a freshly generated chat title.
type TitlePayload struct {
	ChatID string `json:"chatId"`
	Title  string `json:"title"`
}

// ReasoningPayload is one human-readable line of the reasoning log.
type ReasoningPayload struct {
	Text string `json:"text"`
}

// UpdatePayload is one incremental suffix of the answer text.
type UpdatePayload struct {
	Delta string `json:"delta"`
}

// CitationsPayload carries every citation revealed so far plus the marker
// index to emission-order mapping, which is append-only for one answer.
type CitationsPayload struct {
	Citations []fragment.Citation `json:"citations"`
	Map       map[int]int         `json:"map"`
}

// ErrorPayload reports a fatal failure. An End event still follows it.
type ErrorPayload struct {
	Message string `json:"message"`
}
