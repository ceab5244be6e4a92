package models

// EventTypeMessage is the only event type pushed to live subscribers
const EventTypeMessage = "message"

// MessageView is the wire shape of one message, shared by live events and /messages.
// Date and FromUserID are null when the source message does not carry them.
type MessageView struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	Date       *int64 `json:"date"`
	FromUserID *int64 `json:"from_user_id"`
	Outgoing   bool   `json:"outgoing"`
}

// Event is a normalized inbound-message notification. It is built once by the
// router and never mutated afterwards.
type Event struct {
	Type      string      `json:"type"`
	Account   string      `json:"account"`
	ChatID    int64       `json:"chat_id"`
	ChatTitle string      `json:"chat_title"`
	Message   MessageView `json:"message"`
}
