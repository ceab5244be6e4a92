package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tgtriage/internal/database"
	apperrors "tgtriage/internal/errors"
	"tgtriage/internal/models"
	"tgtriage/internal/queue"
	"tgtriage/pkg/telegram/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(sessions ...*mockSession) (*TriageService, *queue.Store, *mockLoginStore) {
	store := queue.NewStore()
	logins := &mockLoginStore{}
	registry := NewRegistry(newFakeProvider(sessions...), "", testLogger())
	return NewTriageService(registry, store, logins, testLogger()), store, logins
}

func int64Ptr(v int64) *int64 { return &v }

func assertUserError(t *testing.T, err error, code apperrors.ErrorCode, message string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.GetCode(err))
	assert.Equal(t, message, apperrors.GetUserMessage(err))
}

func TestSendCode(t *testing.T) {
	t.Run("phone required", func(t *testing.T) {
		svc, _, _ := newTestService()
		_, err := svc.SendCode(context.Background(), models.SendCodeRequest{Phone: "  "})
		assertUserError(t, err, apperrors.ErrCodeInvalidInput, "phone is required")
	})

	t.Run("malformed phone rejected before the gateway", func(t *testing.T) {
		svc, _, logins := newTestService()
		_, err := svc.SendCode(context.Background(), models.SendCodeRequest{Phone: "+7999abc4567"})
		assertUserError(t, err, apperrors.ErrCodeInvalidInput, "phone number contains invalid characters")
		assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
		logins.AssertNotCalled(t, "SavePendingLogin", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("stores the hash under the phone session", func(t *testing.T) {
		sess := newMockSession("+79991234567")
		sess.On("SendCode", mock.Anything, "+79991234567").Return(&types.SentCode{PhoneCodeHash: "h1"}, nil)
		svc, _, logins := newTestService(sess)
		logins.On("SavePendingLogin", mock.Anything, "+79991234567", "h1").Return(nil)

		resp, err := svc.SendCode(context.Background(), models.SendCodeRequest{Phone: "+79991234567"})
		require.NoError(t, err)
		assert.Equal(t, &models.SendCodeResponse{OK: true, PhoneCodeHash: "h1"}, resp)
		logins.AssertExpectations(t)
	})

	t.Run("gateway failure propagates", func(t *testing.T) {
		sess := newMockSession("+79991234567")
		sess.On("SendCode", mock.Anything, mock.Anything).Return(nil, apperrors.NewAPIError("telegram", "send_code", 400, errors.New("PHONE_NUMBER_INVALID")))
		svc, _, logins := newTestService(sess)

		_, err := svc.SendCode(context.Background(), models.SendCodeRequest{Phone: "+79991234567"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTelegramAPI))
		logins.AssertNotCalled(t, "SavePendingLogin", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSignIn(t *testing.T) {
	const phone = "+79991234567"
	ctx := context.Background()
	pending := &database.PendingLogin{Phone: phone, PhoneCodeHash: "h1"}
	user := &types.User{ID: 1, FirstName: "Op", Username: "op"}

	t.Run("phone and code required", func(t *testing.T) {
		svc, _, _ := newTestService()
		_, err := svc.SignIn(ctx, models.SignInRequest{Phone: phone})
		assertUserError(t, err, apperrors.ErrCodeInvalidInput, "phone and code are required")
	})

	t.Run("short phone rejected", func(t *testing.T) {
		svc, _, logins := newTestService()
		_, err := svc.SignIn(ctx, models.SignInRequest{Phone: "+1234", Code: "12345"})
		assertUserError(t, err, apperrors.ErrCodeInvalidInput, "phone number must be at least 10 digits")
		logins.AssertNotCalled(t, "GetPendingLogin", mock.Anything, mock.Anything)
	})

	t.Run("send_code must come first", func(t *testing.T) {
		svc, _, logins := newTestService()
		logins.On("GetPendingLogin", mock.Anything, phone).Return(nil, nil)

		_, err := svc.SignIn(ctx, models.SignInRequest{Phone: phone, Code: "12345"})
		assertUserError(t, err, apperrors.ErrCodeInvalidInput, "send_code must be called first")
		assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
	})

	t.Run("success clears the challenge", func(t *testing.T) {
		sess := newMockSession(phone)
		sess.On("SignIn", mock.Anything, phone, "12345", "h1").Return(user, nil)
		sess.On("GetMe", mock.Anything).Return(user, nil)
		svc, _, logins := newTestService(sess)
		logins.On("GetPendingLogin", mock.Anything, phone).Return(pending, nil)
		logins.On("DeletePendingLogin", mock.Anything, phone).Return(nil).Once()

		resp, err := svc.SignIn(ctx, models.SignInRequest{Phone: phone, Code: "12345"})
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.Equal(t, &models.MeView{ID: 1, FirstName: "Op", Username: "op"}, resp.Me)
		logins.AssertExpectations(t)
	})

	t.Run("two-factor without password", func(t *testing.T) {
		sess := newMockSession(phone)
		sess.On("SignIn", mock.Anything, phone, "12345", "h1").Return(nil, apperrors.NewAuthChallengeError(errors.New("SESSION_PASSWORD_NEEDED")))
		svc, _, logins := newTestService(sess)
		logins.On("GetPendingLogin", mock.Anything, phone).Return(pending, nil)

		_, err := svc.SignIn(ctx, models.SignInRequest{Phone: phone, Code: "12345"})
		assertUserError(t, err, apperrors.ErrCodeAuthChallenge, "Two-factor password required")
		assert.Equal(t, 401, apperrors.HTTPStatusCode(err))
		logins.AssertNotCalled(t, "DeletePendingLogin", mock.Anything, mock.Anything)
	})

	t.Run("two-factor with password", func(t *testing.T) {
		sess := newMockSession(phone)
		sess.On("SignIn", mock.Anything, phone, "12345", "h1").Return(nil, apperrors.NewAuthChallengeError(errors.New("SESSION_PASSWORD_NEEDED")))
		sess.On("CheckPassword", mock.Anything, "secret").Return(user, nil).Once()
		sess.On("GetMe", mock.Anything).Return(nil, errors.New("flaky"))
		svc, _, logins := newTestService(sess)
		logins.On("GetPendingLogin", mock.Anything, phone).Return(pending, nil)
		logins.On("DeletePendingLogin", mock.Anything, phone).Return(nil)

		resp, err := svc.SignIn(ctx, models.SignInRequest{Phone: phone, Code: "12345", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Me.ID)
		sess.AssertExpectations(t)
	})

	t.Run("wrong password propagates", func(t *testing.T) {
		sess := newMockSession(phone)
		sess.On("SignIn", mock.Anything, phone, "12345", "h1").Return(nil, apperrors.NewAuthChallengeError(nil))
		sess.On("CheckPassword", mock.Anything, "nope").Return(nil, apperrors.NewAPIError("telegram", "check_password", 400, errors.New("PASSWORD_HASH_INVALID")))
		svc, _, logins := newTestService(sess)
		logins.On("GetPendingLogin", mock.Anything, phone).Return(pending, nil)

		_, err := svc.SignIn(ctx, models.SignInRequest{Phone: phone, Code: "12345", Password: "nope"})
		assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
	})
}

func TestMe(t *testing.T) {
	sess := newMockSession("")
	sess.On("GetMe", mock.Anything).Return(&types.User{ID: 9, FirstName: "Op"}, nil).Once()
	sess.On("GetMe", mock.Anything).Return(nil, errors.New("AUTH_KEY_UNREGISTERED"))
	svc, _, _ := newTestService(sess)

	resp := svc.Me(context.Background(), "")
	assert.True(t, resp.Authorized)
	assert.Equal(t, int64(9), resp.Me.ID)

	resp = svc.Me(context.Background(), "")
	assert.Equal(t, &models.MeResponse{Authorized: false}, resp)
}

func TestDialogs(t *testing.T) {
	t.Run("not authorized", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(nil, errors.New("unregistered"))
		svc, _, _ := newTestService(sess)

		_, err := svc.Dialogs(context.Background(), "", 0)
		assertUserError(t, err, apperrors.ErrCodeNotAuthorized, "Not authorized")
		sess.AssertNotCalled(t, "GetDialogs", mock.Anything, mock.Anything)
	})

	t.Run("private dialogs only", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(&types.User{ID: 1}, nil)
		sess.On("GetDialogs", mock.Anything, 100).Return([]types.Dialog{
			{Chat: types.Chat{ID: 1, Type: types.ChatTypePrivate, FirstName: "Ann", LastName: "Lee", Username: "ann"}, UnreadCount: 2, TopMessage: &types.Message{Text: " hey "}},
			{Chat: types.Chat{ID: -5, Type: types.ChatTypeGroup, Title: "G"}, UnreadCount: 9},
			{Chat: types.Chat{ID: 2, Type: types.ChatTypePrivate, FirstName: "Bob"}, TopMessage: &types.Message{Caption: ""}},
		}, nil)
		svc, _, _ := newTestService(sess)

		resp, err := svc.Dialogs(context.Background(), "", 0)
		require.NoError(t, err)
		require.Len(t, resp.Dialogs, 2)

		first := resp.Dialogs[0]
		assert.Equal(t, int64(1), first.ChatID)
		assert.Equal(t, "Ann Lee", first.Title)
		assert.Equal(t, "private", first.Type)
		require.NotNil(t, first.Username)
		assert.Equal(t, "ann", *first.Username)
		assert.Equal(t, 2, first.UnreadCount)
		require.NotNil(t, first.LastMessageText)
		assert.Equal(t, "hey", *first.LastMessageText)

		second := resp.Dialogs[1]
		assert.Nil(t, second.Username)
		assert.Nil(t, second.LastMessageText)
	})
}

func TestMessages(t *testing.T) {
	newest := []types.Message{
		{ID: 30, Text: "third", Date: 3},
		{ID: 20, Caption: "   "},
		{ID: 10, Caption: " first ", From: &types.User{ID: 5}},
	}

	t.Run("oldest first and empty skipped", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(&types.User{ID: 1}, nil)
		sess.On("GetHistory", mock.Anything, int64(42), 50, int64(0)).Return(newest, nil)
		svc, _, _ := newTestService(sess)

		resp, err := svc.Messages(context.Background(), "", 42, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(42), resp.ChatID)
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, int64(10), resp.Messages[0].ID)
		assert.Equal(t, "first", resp.Messages[0].Text)
		assert.Equal(t, int64(5), *resp.Messages[0].FromUserID)
		assert.Nil(t, resp.Messages[0].Date)
		assert.Equal(t, int64(30), resp.Messages[1].ID)
	})

	t.Run("before_id fetches strictly older", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(&types.User{ID: 1}, nil)
		sess.On("GetHistory", mock.Anything, int64(42), 20, int64(99)).Return([]types.Message{}, nil).Once()
		svc, _, _ := newTestService(sess)

		resp, err := svc.Messages(context.Background(), "", 42, 20, 100)
		require.NoError(t, err)
		assert.NotNil(t, resp.Messages)
		assert.Empty(t, resp.Messages)
		sess.AssertExpectations(t)
	})
}

func TestChatInfo(t *testing.T) {
	t.Run("lookup failure is not found", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(&types.User{ID: 1}, nil)
		sess.On("GetChat", mock.Anything, int64(7)).Return(nil, apperrors.NewAPIError("telegram", "get_chat", 400, errors.New("[400 PEER_ID_INVALID]")))
		svc, _, _ := newTestService(sess)

		_, err := svc.ChatInfo(context.Background(), "", 7)
		assert.Equal(t, 404, apperrors.HTTPStatusCode(err))
		assert.Equal(t, "[400 PEER_ID_INVALID]", apperrors.GetUserMessage(err))
	})

	t.Run("title falls back to chat id", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(&types.User{ID: 1}, nil)
		sess.On("GetChat", mock.Anything, int64(7)).Return(&types.Chat{ID: 7, Type: types.ChatTypePrivate}, nil)
		svc, _, _ := newTestService(sess)

		resp, err := svc.ChatInfo(context.Background(), "", 7)
		require.NoError(t, err)
		assert.Equal(t, models.ChatInfoView{ChatID: 7, Title: "7", Type: "private"}, resp.Chat)
	})

	t.Run("name and username", func(t *testing.T) {
		sess := newMockSession("")
		sess.On("GetMe", mock.Anything).Return(&types.User{ID: 1}, nil)
		sess.On("GetChat", mock.Anything, int64(7)).Return(&types.Chat{ID: 7, Type: types.ChatTypePrivate, FirstName: "Ann", Username: "ann"}, nil)
		svc, _, _ := newTestService(sess)

		resp, err := svc.ChatInfo(context.Background(), "", 7)
		require.NoError(t, err)
		assert.Equal(t, "Ann", resp.Chat.Title)
		assert.Equal(t, "ann", *resp.Chat.Username)
	})
}

func TestSendMessage(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		svc, _, _ := newTestService()
		for _, req := range []models.SendMessageRequest{
			{Text: "hi"},
			{ChatID: int64Ptr(1)},
			{ChatID: int64Ptr(1), Text: "   "},
		} {
			_, err := svc.SendMessage(context.Background(), req)
			assertUserError(t, err, apperrors.ErrCodeInvalidInput, "chat_id and text are required")
		}
	})

	t.Run("relays reply", func(t *testing.T) {
		sess := newMockSession("alice")
		replyTo := int64Ptr(3)
		sess.On("SendText", mock.Anything, int64(42), "hello", replyTo).Return(&types.Message{ID: 77}, nil)
		svc, _, _ := newTestService(sess)

		resp, err := svc.SendMessage(context.Background(), models.SendMessageRequest{
			Account: " alice ", ChatID: int64Ptr(42), Text: "hello", ReplyToMessageID: replyTo,
		})
		require.NoError(t, err)
		assert.Equal(t, &models.SendMessageResponse{OK: true, MessageID: 77}, resp)
	})
}

func TestQueue_ReconcilesAndSwallowsListingErrors(t *testing.T) {
	me := &types.User{ID: 1}
	sess := newMockSession("X")
	sess.On("GetMe", mock.Anything).Return(me, nil)
	sess.On("GetDialogs", mock.Anything, mock.Anything).Return([]types.Dialog{dialog(8, types.ChatTypePrivate, 1)}, nil).Once()
	sess.On("GetDialogs", mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	svc, store, _ := newTestService(sess)
	store.Enqueue("X", 5)

	for i := 0; i < 2; i++ {
		resp, err := svc.Queue(context.Background(), "X")
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 8}, resp.Queue)
	}

	empty := newMockSession("")
	empty.On("GetMe", mock.Anything).Return(me, nil)
	empty.On("GetDialogs", mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	svc, _, _ = newTestService(empty)
	resp, err := svc.Queue(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, resp.Queue)
	assert.Empty(t, resp.Queue)
}

func TestQueue_RefusesUnauthorizedAccount(t *testing.T) {
	sess := newMockSession("X")
	sess.On("GetMe", mock.Anything).Return(nil, apperrors.NewNotAuthorizedError("X", errors.New("AUTH_KEY_UNREGISTERED")))
	svc, store, _ := newTestService(sess)
	store.Enqueue("X", 7)

	resp, err := svc.Queue(context.Background(), "X")
	assert.Nil(t, resp)
	assertUserError(t, err, apperrors.ErrCodeNotAuthorized, "Not authorized")
	assert.Equal(t, 401, apperrors.HTTPStatusCode(err))
	sess.AssertNotCalled(t, "GetDialogs", mock.Anything, mock.Anything)
	assert.Equal(t, []int64{7}, store.Snapshot("X"))
}

func TestQueueAction(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		svc, _, _ := newTestService()
		for _, req := range []models.QueueActionRequest{
			{Action: "done"},
			{ChatID: int64Ptr(1), Action: "archive"},
			{ChatID: int64Ptr(1)},
		} {
			_, err := svc.QueueAction(context.Background(), req)
			assertUserError(t, err, apperrors.ErrCodeInvalidInput, "chat_id and valid action are required")
		}
	})

	t.Run("action is case insensitive", func(t *testing.T) {
		sess := newMockSession("X")
		svc, store, _ := newTestService(sess)
		for _, id := range []int64{42, 7, 9} {
			store.Enqueue("X", id)
		}

		resp, err := svc.QueueAction(context.Background(), models.QueueActionRequest{Account: "X", ChatID: int64Ptr(7), Action: "POSTPONE"})
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.Equal(t, []int64{42, 9, 7}, resp.Queue)
		assert.Equal(t, int64(42), *resp.NextChatID)
	})

	t.Run("done on the last chat", func(t *testing.T) {
		sess := newMockSession("X")
		sess.On("ReadHistory", mock.Anything, int64(42)).Return(errors.New("down"))
		svc, store, _ := newTestService(sess)
		store.Enqueue("X", 42)

		resp, err := svc.QueueAction(context.Background(), models.QueueActionRequest{Account: "X", ChatID: int64Ptr(42), Action: "done"})
		require.NoError(t, err)
		assert.Nil(t, resp.NextChatID)
		assert.Equal(t, []int64{}, resp.Queue)
		sess.AssertCalled(t, "ReadHistory", mock.Anything, int64(42))
	})
}

func TestResolveContact(t *testing.T) {
	tests := []struct {
		name      string
		req       models.ResolveContactRequest
		setup     func(s *mockSession)
		wantID    int64
		wantCode  apperrors.ErrorCode
		wantError string
	}{
		{
			name:      "nothing supplied",
			req:       models.ResolveContactRequest{},
			wantCode:  apperrors.ErrCodeInvalidInput,
			wantError: "user_id or phone or username is required",
		},
		{
			name:      "null and empty user_id count as absent",
			req:       models.ResolveContactRequest{UserID: json.RawMessage(`""`)},
			wantCode:  apperrors.ErrCodeInvalidInput,
			wantError: "user_id or phone or username is required",
		},
		{
			name:   "numeric user_id",
			req:    models.ResolveContactRequest{UserID: json.RawMessage(`12345`)},
			wantID: 12345,
		},
		{
			name:   "string user_id",
			req:    models.ResolveContactRequest{UserID: json.RawMessage(`"678"`)},
			wantID: 678,
		},
		{
			name:      "invalid user_id",
			req:       models.ResolveContactRequest{UserID: json.RawMessage(`"abc"`)},
			wantCode:  apperrors.ErrCodeInvalidInput,
			wantError: "invalid user_id",
		},
		{
			name: "phone imported as contact",
			req:  models.ResolveContactRequest{Phone: "8 (999) 123-45-67"},
			setup: func(s *mockSession) {
				s.On("ImportContactByPhone", mock.Anything, "+79991234567").Return(&types.User{ID: 555}, nil)
			},
			wantID: 555,
		},
		{
			name: "phone falls back to digits as user id",
			req:  models.ResolveContactRequest{Phone: "777000"},
			setup: func(s *mockSession) {
				s.On("ImportContactByPhone", mock.Anything, "+777000").Return(nil, apperrors.NewNotFoundError("user", "x"))
			},
			wantID: 777000,
		},
		{
			name: "phone without digits",
			req:  models.ResolveContactRequest{Phone: "abc"},
			setup: func(s *mockSession) {
				s.On("ImportContactByPhone", mock.Anything, "abc").Return(nil, errors.New("PHONE_NUMBER_INVALID"))
			},
			wantCode:  apperrors.ErrCodeNotFound,
			wantError: "User not found by phone",
		},
		{
			name: "username with at sign",
			req:  models.ResolveContactRequest{Username: "@durov"},
			setup: func(s *mockSession) {
				s.On("ResolveUsername", mock.Anything, "durov").Return(&types.Chat{ID: 1, Type: types.ChatTypePrivate}, nil)
			},
			wantID: 1,
		},
		{
			name: "username of a channel",
			req:  models.ResolveContactRequest{Username: "telegram"},
			setup: func(s *mockSession) {
				s.On("ResolveUsername", mock.Anything, "telegram").Return(&types.Chat{ID: -100, Type: types.ChatTypeChannel}, nil)
			},
			wantCode:  apperrors.ErrCodeInvalidInput,
			wantError: "Username is not a private user",
		},
		{
			name: "unknown username",
			req:  models.ResolveContactRequest{Username: "nobody_here"},
			setup: func(s *mockSession) {
				s.On("ResolveUsername", mock.Anything, "nobody_here").Return(nil, apperrors.NewNotFoundError("user", "resolve_username"))
			},
			wantCode:  apperrors.ErrCodeNotFound,
			wantError: "User not found by username",
		},
		{
			name:      "malformed username",
			req:       models.ResolveContactRequest{Username: "@"},
			wantCode:  apperrors.ErrCodeNotFound,
			wantError: "User not found by username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newMockSession("")
			if tt.setup != nil {
				tt.setup(sess)
			}
			svc, _, _ := newTestService(sess)

			resp, err := svc.ResolveContact(context.Background(), tt.req)
			if tt.wantError != "" {
				assertUserError(t, err, tt.wantCode, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, &models.ResolveContactResponse{OK: true, UserID: tt.wantID, ChatID: tt.wantID}, resp)
		})
	}
}
