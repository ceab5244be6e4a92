package types

import (
	"strings"
)

// User is a Telegram account as reported by the gateway
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// FullName joins first and last name with a single space when both are present
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Chat is a conversation peer. Private chats carry first/last name instead of a title.
type Chat struct {
	ID        int64    `json:"id"`
	Type      ChatType `json:"type"`
	Title     string   `json:"title,omitempty"`
	Username  string   `json:"username,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
}

func (c *Chat) IsPrivate() bool {
	return c != nil && c.Type == ChatTypePrivate
}

// DisplayName returns the title, falling back to the person's name for private chats
func (c *Chat) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.Title != "" {
		return c.Title
	}
	name := c.FirstName
	if c.LastName != "" {
		name += " " + c.LastName
	}
	return strings.TrimSpace(name)
}

// Message is a single chat message. Date is unix seconds, zero when unknown.
type Message struct {
	ID         int64  `json:"id"`
	Chat       Chat   `json:"chat"`
	From       *User  `json:"from_user,omitempty"`
	SenderChat *Chat  `json:"sender_chat,omitempty"`
	Text       string `json:"text,omitempty"`
	Caption    string `json:"caption,omitempty"`
	Date       int64  `json:"date,omitempty"`
	Outgoing   bool   `json:"outgoing"`
	Service    bool   `json:"service,omitempty"`
}

// PreviewText is the trimmed text, or the trimmed caption when the text is blank
func (m *Message) PreviewText() string {
	if m == nil {
		return ""
	}
	if text := strings.TrimSpace(m.Text); text != "" {
		return text
	}
	return strings.TrimSpace(m.Caption)
}

// Dialog is one entry of the account's dialog list
type Dialog struct {
	Chat        Chat     `json:"chat"`
	UnreadCount int      `json:"unread_count"`
	TopMessage  *Message `json:"top_message,omitempty"`
}

// Update wraps one inbound event delivered by the gateway
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// UpdateBatch is the body of both the long-poll response and the webhook push
type UpdateBatch struct {
	Session string   `json:"session,omitempty"`
	Updates []Update `json:"updates"`
}

// SentCode is returned by send-code; the hash must be echoed back on sign-in
type SentCode struct {
	PhoneCodeHash string `json:"phone_code_hash"`
	Type          string `json:"type,omitempty"`
}

// ProxySettings is forwarded to the gateway when it opens the MTProto connection
type ProxySettings struct {
	Scheme   string `json:"scheme"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ConnectRequest opens (or reuses) the gateway-side client for a session
type ConnectRequest struct {
	APIID    int            `json:"api_id"`
	APIHash  string         `json:"api_hash"`
	Workdir  string         `json:"workdir"`
	InMemory bool           `json:"in_memory"`
	Proxy    *ProxySettings `json:"proxy,omitempty"`
}

type ConnectResponse struct {
	Connected  bool `json:"connected"`
	Authorized bool `json:"authorized"`
}

type SendCodeRequest struct {
	Phone string `json:"phone"`
}

type SignInRequest struct {
	Phone         string `json:"phone"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phone_code_hash"`
}

type CheckPasswordRequest struct {
	Password string `json:"password"`
}

// SendTextRequest represents the request for sending a text message
type SendTextRequest struct {
	Text             string `json:"text"`
	ReplyToMessageID *int64 `json:"reply_to_message_id,omitempty"`
}

// ImportContactRequest adds a phone contact so the user becomes addressable
type ImportContactRequest struct {
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type ImportContactResponse struct {
	Users []User `json:"users"`
}

type DialogsResponse struct {
	Dialogs []Dialog `json:"dialogs"`
}

type HistoryResponse struct {
	Messages []Message `json:"messages"`
}

// ErrorResponse is the gateway's error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
