package types

import (
	"context"
)

// Provider constructs session handles. Open must not perform I/O so callers
// can hold a lock around it.
type Provider interface {
	Open(account, sessionName string) (Session, error)
}

// Session is one long-lived connection to a Telegram account
type Session interface {
	Account() string
	Name() string
	IsConnected() bool
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	SendCode(ctx context.Context, phone string) (*SentCode, error)
	SignIn(ctx context.Context, phone, code, phoneCodeHash string) (*User, error)
	CheckPassword(ctx context.Context, password string) (*User, error)
	GetMe(ctx context.Context) (*User, error)

	GetDialogs(ctx context.Context, limit int) ([]Dialog, error)
	// GetHistory returns messages newest first; maxID of zero means no upper bound
	GetHistory(ctx context.Context, chatID int64, limit int, maxID int64) ([]Message, error)
	GetChat(ctx context.Context, chatID int64) (*Chat, error)
	SendText(ctx context.Context, chatID int64, text string, replyTo *int64) (*Message, error)
	ReadHistory(ctx context.Context, chatID int64) error

	ImportContactByPhone(ctx context.Context, phone string) (*User, error)
	ResolveUsername(ctx context.Context, username string) (*Chat, error)

	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error)
}
