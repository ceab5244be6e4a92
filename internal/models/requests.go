package models

import "encoding/json"

// Request bodies accepted by the HTTP surface. Account is optional everywhere;
// the empty string selects the default account.

type SendCodeRequest struct {
	Phone string `json:"phone"`
}

type SignInRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	Password string `json:"password,omitempty"`
}

type SendMessageRequest struct {
	Account          string `json:"account,omitempty"`
	ChatID           *int64 `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID *int64 `json:"reply_to_message_id,omitempty"`
}

type QueueActionRequest struct {
	Account string `json:"account,omitempty"`
	ChatID  *int64 `json:"chat_id"`
	Action  string `json:"action"`
}

// ResolveContactRequest keeps user_id raw so numbers and numeric strings are both accepted
type ResolveContactRequest struct {
	Account  string          `json:"account,omitempty"`
	UserID   json.RawMessage `json:"user_id,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Username string          `json:"username,omitempty"`
}

// WebhookResponse acknowledges a pushed update batch
type WebhookResponse struct {
	OK       bool `json:"ok"`
	Accepted int  `json:"accepted"`
}
