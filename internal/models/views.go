package models

// MeView is the operator identity returned by sign-in and /me
type MeView struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type SendCodeResponse struct {
	OK            bool   `json:"ok"`
	PhoneCodeHash string `json:"phone_code_hash,omitempty"`
}

type SignInResponse struct {
	OK bool    `json:"ok"`
	Me *MeView `json:"me"`
}

type MeResponse struct {
	Authorized bool    `json:"authorized"`
	Me         *MeView `json:"me,omitempty"`
}

type DialogView struct {
	ChatID          int64   `json:"chat_id"`
	Title           string  `json:"title"`
	Type            string  `json:"type"`
	Username        *string `json:"username"`
	UnreadCount     int     `json:"unread_count"`
	LastMessageText *string `json:"last_message_text"`
}

type DialogsResponse struct {
	Dialogs []DialogView `json:"dialogs"`
}

type MessagesResponse struct {
	ChatID   int64         `json:"chat_id"`
	Messages []MessageView `json:"messages"`
}

type ChatInfoView struct {
	ChatID   int64   `json:"chat_id"`
	Title    string  `json:"title"`
	Type     string  `json:"type"`
	Username *string `json:"username"`
}

type ChatInfoResponse struct {
	Chat ChatInfoView `json:"chat"`
}

type SendMessageResponse struct {
	OK        bool  `json:"ok"`
	MessageID int64 `json:"message_id"`
}

type QueueResponse struct {
	Queue []int64 `json:"queue"`
}

type QueueActionResponse struct {
	OK         bool    `json:"ok"`
	NextChatID *int64  `json:"next_chat_id"`
	Queue      []int64 `json:"queue"`
}

type ResolveContactResponse struct {
	OK     bool  `json:"ok"`
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type IndexResponse struct {
	Service   string   `json:"service"`
	Status    string   `json:"status"`
	Endpoints []string `json:"endpoints"`
}
