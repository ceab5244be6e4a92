package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"tgtriage/internal/constants"
	"tgtriage/internal/database"
	apperrors "tgtriage/internal/errors"
	"tgtriage/internal/models"
	"tgtriage/internal/privacy"
	"tgtriage/internal/queue"
	"tgtriage/internal/validation"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// LoginStore keeps the phone_code_hash between send_code and sign_in
type LoginStore interface {
	SavePendingLogin(ctx context.Context, phone, phoneCodeHash string) error
	GetPendingLogin(ctx context.Context, phone string) (*database.PendingLogin, error)
	DeletePendingLogin(ctx context.Context, phone string) error
}

// TriageService implements every operation behind the HTTP surface
type TriageService struct {
	registry   *Registry
	queues     *queue.Store
	reconciler *Reconciler
	dispatcher *Dispatcher
	logins     LoginStore
	logger     *logrus.Logger
}

func NewTriageService(registry *Registry, queues *queue.Store, logins LoginStore, logger *logrus.Logger) *TriageService {
	return &TriageService{
		registry:   registry,
		queues:     queues,
		reconciler: NewReconciler(registry, queues, logger),
		dispatcher: NewDispatcher(registry, queues, logger),
		logins:     logins,
		logger:     logger,
	}
}

// Reconciler exposes the reconciler so the scheduler can share it
func (s *TriageService) Reconciler() *Reconciler {
	return s.reconciler
}

// SendCode starts a sign-in for phone. The session is keyed by the phone number.
func (s *TriageService) SendCode(ctx context.Context, req models.SendCodeRequest) (*models.SendCodeResponse, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, apperrors.NewRequiredError("phone is required")
	}
	if err := validation.ValidatePhoneNumber(phone); err != nil {
		return nil, err
	}

	sess, err := s.registry.Acquire(ctx, phone)
	if err != nil {
		return nil, err
	}
	sent, err := sess.SendCode(ctx, phone)
	if err != nil {
		return nil, err
	}

	if err := s.logins.SavePendingLogin(ctx, phone, sent.PhoneCodeHash); err != nil {
		return nil, apperrors.NewDatabaseError("save pending login", err)
	}

	LogWithContext(ctx, s.logger).WithField(LogFieldAccount, privacy.MaskPhoneNumber(phone)).Info("Login code sent")
	return &models.SendCodeResponse{OK: true, PhoneCodeHash: sent.PhoneCodeHash}, nil
}

// SignIn completes a sign-in started by SendCode. A two-factor account needs the password.
func (s *TriageService) SignIn(ctx context.Context, req models.SignInRequest) (*models.SignInResponse, error) {
	phone := strings.TrimSpace(req.Phone)
	code := strings.TrimSpace(req.Code)
	if phone == "" || code == "" {
		return nil, apperrors.NewRequiredError("phone and code are required")
	}
	if err := validation.ValidatePhoneNumber(phone); err != nil {
		return nil, err
	}

	pending, err := s.logins.GetPendingLogin(ctx, phone)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get pending login", err)
	}
	if pending == nil || pending.PhoneCodeHash == "" {
		return nil, apperrors.NewRequiredError("send_code must be called first")
	}

	sess, err := s.registry.Acquire(ctx, phone)
	if err != nil {
		return nil, err
	}

	user, err := sess.SignIn(ctx, phone, code, pending.PhoneCodeHash)
	if apperrors.HasCode(err, apperrors.ErrCodeAuthChallenge) {
		if req.Password == "" {
			return nil, err
		}
		user, err = sess.CheckPassword(ctx, req.Password)
	}
	if err != nil {
		return nil, err
	}

	if err := s.logins.DeletePendingLogin(ctx, phone); err != nil {
		LogWithContext(ctx, s.logger).WithError(err).Warn("Failed to delete pending login")
	}

	if me, err := sess.GetMe(ctx); err == nil {
		user = me
	}

	LogWithContext(ctx, s.logger).WithField(LogFieldAccount, privacy.MaskPhoneNumber(phone)).Info("Account signed in")
	return &models.SignInResponse{OK: true, Me: meView(user)}, nil
}

// Me reports the signed-in identity; any failure reads as not authorized
func (s *TriageService) Me(ctx context.Context, account string) *models.MeResponse {
	sess, err := s.registry.Acquire(ctx, account)
	if err != nil {
		return &models.MeResponse{Authorized: false}
	}
	me, err := sess.GetMe(ctx)
	if err != nil {
		return &models.MeResponse{Authorized: false}
	}
	return &models.MeResponse{Authorized: true, Me: meView(me)}
}

// authorized returns a connected session whose identity check passed
func (s *TriageService) authorized(ctx context.Context, account string) (types.Session, error) {
	sess, err := s.registry.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}
	if _, err := sess.GetMe(ctx); err != nil {
		return nil, apperrors.NewNotAuthorizedError(account, err)
	}
	return sess, nil
}

// Dialogs lists the account's private dialogs
func (s *TriageService) Dialogs(ctx context.Context, account string, limit int) (*models.DialogsResponse, error) {
	sess, err := s.authorized(ctx, account)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constants.DefaultDialogsLimit
	}

	dialogs, err := sess.GetDialogs(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]models.DialogView, 0, len(dialogs))
	for _, d := range dialogs {
		if !d.Chat.IsPrivate() {
			continue
		}
		view := models.DialogView{
			ChatID:      d.Chat.ID,
			Title:       d.Chat.DisplayName(),
			Type:        string(d.Chat.Type),
			Username:    optionalString(d.Chat.Username),
			UnreadCount: d.UnreadCount,
		}
		if d.TopMessage != nil {
			view.LastMessageText = optionalString(d.TopMessage.PreviewText())
		}
		out = append(out, view)
	}
	return &models.DialogsResponse{Dialogs: out}, nil
}

// Messages returns up to limit readable messages, oldest first. A non-zero
// beforeID fetches messages strictly older than it.
func (s *TriageService) Messages(ctx context.Context, account string, chatID int64, limit int, beforeID int64) (*models.MessagesResponse, error) {
	sess, err := s.authorized(ctx, account)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constants.DefaultMessagesLimit
	}

	var maxID int64
	if beforeID != 0 {
		maxID = beforeID - 1
	}

	history, err := sess.GetHistory(ctx, chatID, limit, maxID)
	if err != nil {
		return nil, err
	}

	out := make([]models.MessageView, 0, len(history))
	// history arrives newest first
	for i := len(history) - 1; i >= 0; i-- {
		msg := &history[i]
		if msg.PreviewText() == "" {
			continue
		}
		out = append(out, messageView(msg))
	}
	return &models.MessagesResponse{ChatID: chatID, Messages: out}, nil
}

// ChatInfo describes one chat; any lookup failure is reported as not found
func (s *TriageService) ChatInfo(ctx context.Context, account string, chatID int64) (*models.ChatInfoResponse, error) {
	sess, err := s.authorized(ctx, account)
	if err != nil {
		return nil, err
	}

	chat, err := sess.GetChat(ctx, chatID)
	if err != nil {
		notFound := apperrors.NewNotFoundError("chat", privacy.MaskChatID(chatID)).WithUserMessage(apperrors.GetUserMessage(err))
		notFound.Cause = err
		return nil, notFound
	}

	id := chat.ID
	if id == 0 {
		id = chatID
	}
	title := chat.DisplayName()
	if title == "" {
		title = strconv.FormatInt(chatID, 10)
	}

	return &models.ChatInfoResponse{Chat: models.ChatInfoView{
		ChatID:   id,
		Title:    title,
		Type:     string(chat.Type),
		Username: optionalString(chat.Username),
	}}, nil
}

// SendMessage relays an operator reply
func (s *TriageService) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.SendMessageResponse, error) {
	if req.ChatID == nil || req.Text == "" {
		return nil, apperrors.NewRequiredError("chat_id and text are required")
	}
	if err := validation.ValidateMessageText(req.Text); err != nil {
		return nil, err
	}
	account := strings.TrimSpace(req.Account)

	sess, err := s.registry.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}
	sent, err := sess.SendText(ctx, *req.ChatID, req.Text, req.ReplyToMessageID)
	if err != nil {
		return nil, err
	}

	LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldAccount:   privacy.MaskAccount(account),
		LogFieldChatID:    privacy.MaskChatID(*req.ChatID),
		LogFieldMessageID: sent.ID,
	}).Info("Message sent")
	return &models.SendMessageResponse{OK: true, MessageID: sent.ID}, nil
}

// Queue reconciles the account's queue with unread dialogs, then returns it.
// An account without a signed-in identity is refused; a failed dialog listing
// is only logged and the current queue is returned.
func (s *TriageService) Queue(ctx context.Context, account string) (*models.QueueResponse, error) {
	if _, err := s.authorized(ctx, account); err != nil {
		return nil, err
	}
	s.reconciler.ReconcileBestEffort(ctx, account)
	return &models.QueueResponse{Queue: nonNil(s.queues.Snapshot(account))}, nil
}

// QueueAction applies done, postpone or task to a queued chat
func (s *TriageService) QueueAction(ctx context.Context, req models.QueueActionRequest) (*models.QueueActionResponse, error) {
	action, ok := queue.ParseAction(req.Action)
	if req.ChatID == nil || !ok {
		return nil, apperrors.NewRequiredError("chat_id and valid action are required")
	}

	result := s.dispatcher.ApplyAction(ctx, strings.TrimSpace(req.Account), *req.ChatID, action)
	return &models.QueueActionResponse{OK: true, NextChatID: result.NextChatID, Queue: nonNil(result.Queue)}, nil
}

// ResolveContact turns a user id, phone number or username into a chat id.
// The first field present wins, in that order.
func (s *TriageService) ResolveContact(ctx context.Context, req models.ResolveContactRequest) (*models.ResolveContactResponse, error) {
	account := strings.TrimSpace(req.Account)
	phone := strings.TrimSpace(req.Phone)
	username := strings.TrimSpace(req.Username)

	hasUserID := userIDPresent(req.UserID)
	if !hasUserID && phone == "" && username == "" {
		return nil, apperrors.NewRequiredError("user_id or phone or username is required")
	}

	if hasUserID {
		uid, err := validation.ParseUserID(req.UserID)
		if err != nil {
			return nil, err
		}
		return resolved(uid), nil
	}

	sess, err := s.registry.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}

	if phone != "" {
		return s.resolveByPhone(ctx, sess, phone)
	}
	return s.resolveByUsername(ctx, sess, username)
}

func (s *TriageService) resolveByPhone(ctx context.Context, sess types.Session, phone string) (*models.ResolveContactResponse, error) {
	user, err := sess.ImportContactByPhone(ctx, validation.NormalizePhoneE164(phone))
	if err == nil && user.ID != 0 {
		return resolved(user.ID), nil
	}
	if err != nil {
		LogWithContext(ctx, s.logger).WithError(err).WithField(LogFieldOperation, "import_contact").
			Debug("Contact import failed, trying phone as user id")
	}

	// operators sometimes paste a bare user id into the phone field
	if digits := validation.DigitsOnly(phone); digits != "" {
		if uid, err := strconv.ParseInt(digits, 10, 64); err == nil {
			return resolved(uid), nil
		}
	}
	return nil, apperrors.NewNotFoundError("user", privacy.MaskPhoneNumber(phone)).WithUserMessage("User not found by phone")
}

func (s *TriageService) resolveByUsername(ctx context.Context, sess types.Session, raw string) (*models.ResolveContactResponse, error) {
	notFound := apperrors.NewNotFoundError("user", privacy.MaskUsername(raw)).WithUserMessage("User not found by username")

	username, err := validation.ParseUsername(raw)
	if err != nil {
		return nil, notFound
	}
	chat, err := sess.ResolveUsername(ctx, username)
	if err != nil {
		notFound.Cause = err
		return nil, notFound
	}
	if chat.Type != "" && !chat.IsPrivate() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "username does not belong to a private user").
			WithUserMessage("Username is not a private user")
	}
	if chat.ID == 0 {
		return nil, notFound
	}
	return resolved(chat.ID), nil
}

func resolved(uid int64) *models.ResolveContactResponse {
	return &models.ResolveContactResponse{OK: true, UserID: uid, ChatID: uid}
}

// userIDPresent treats a missing field, null and "" as absent
func userIDPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte(`""`))
}

func meView(u *types.User) *models.MeView {
	if u == nil {
		return nil
	}
	return &models.MeView{ID: u.ID, FirstName: u.FirstName, Username: u.Username}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
