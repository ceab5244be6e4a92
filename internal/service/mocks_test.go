package service

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"tgtriage/internal/database"
	"tgtriage/internal/models"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// mockSession is a testify mock of a gateway session. Connection state is a
// plain flag so tests only stub the calls they care about.
type mockSession struct {
	mock.Mock
	account   string
	name      string
	connected atomic.Bool
}

func newMockSession(account string) *mockSession {
	s := &mockSession{account: account, name: account}
	if account == "" {
		s.name = "primary"
	}
	s.connected.Store(true)
	return s
}

func (m *mockSession) Account() string   { return m.account }
func (m *mockSession) Name() string      { return m.name }
func (m *mockSession) IsConnected() bool { return m.connected.Load() }

func (m *mockSession) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	if args.Error(0) == nil {
		m.connected.Store(true)
	}
	return args.Error(0)
}

func (m *mockSession) Close(ctx context.Context) error {
	m.connected.Store(false)
	return m.Called(ctx).Error(0)
}

func (m *mockSession) SendCode(ctx context.Context, phone string) (*types.SentCode, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SentCode), args.Error(1)
}

func (m *mockSession) SignIn(ctx context.Context, phone, code, phoneCodeHash string) (*types.User, error) {
	args := m.Called(ctx, phone, code, phoneCodeHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *mockSession) CheckPassword(ctx context.Context, password string) (*types.User, error) {
	args := m.Called(ctx, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *mockSession) GetMe(ctx context.Context) (*types.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *mockSession) GetDialogs(ctx context.Context, limit int) ([]types.Dialog, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Dialog), args.Error(1)
}

func (m *mockSession) GetHistory(ctx context.Context, chatID int64, limit int, maxID int64) ([]types.Message, error) {
	args := m.Called(ctx, chatID, limit, maxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *mockSession) GetChat(ctx context.Context, chatID int64) (*types.Chat, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Chat), args.Error(1)
}

func (m *mockSession) SendText(ctx context.Context, chatID int64, text string, replyTo *int64) (*types.Message, error) {
	args := m.Called(ctx, chatID, text, replyTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Message), args.Error(1)
}

func (m *mockSession) ReadHistory(ctx context.Context, chatID int64) error {
	return m.Called(ctx, chatID).Error(0)
}

func (m *mockSession) ImportContactByPhone(ctx context.Context, phone string) (*types.User, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *mockSession) ResolveUsername(ctx context.Context, username string) (*types.Chat, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Chat), args.Error(1)
}

func (m *mockSession) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]types.Update, error) {
	args := m.Called(ctx, offset, timeoutSec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Update), args.Error(1)
}

// fakeProvider hands out pre-built sessions and counts Open calls per account
type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*mockSession
	opens    map[string]int
	names    map[string]string
	openErr  error
	delay    time.Duration
}

func newFakeProvider(sessions ...*mockSession) *fakeProvider {
	p := &fakeProvider{
		sessions: make(map[string]*mockSession),
		opens:    make(map[string]int),
		names:    make(map[string]string),
	}
	for _, s := range sessions {
		p.sessions[s.account] = s
	}
	return p
}

func (p *fakeProvider) Open(account, sessionName string) (types.Session, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openErr != nil {
		return nil, p.openErr
	}
	p.opens[account]++
	p.names[account] = sessionName
	if s, ok := p.sessions[account]; ok {
		return s, nil
	}
	s := newMockSession(account)
	p.sessions[account] = s
	return s, nil
}

func (p *fakeProvider) openCount(account string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens[account]
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1
}

func (p *recordingPublisher) published() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

// mockLoginStore is a testify mock of the pending sign-in store
type mockLoginStore struct {
	mock.Mock
}

func (m *mockLoginStore) SavePendingLogin(ctx context.Context, phone, phoneCodeHash string) error {
	return m.Called(ctx, phone, phoneCodeHash).Error(0)
}

func (m *mockLoginStore) GetPendingLogin(ctx context.Context, phone string) (*database.PendingLogin, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.PendingLogin), args.Error(1)
}

func (m *mockLoginStore) DeletePendingLogin(ctx context.Context, phone string) error {
	return m.Called(ctx, phone).Error(0)
}

func (m *mockLoginStore) PurgePendingLoginsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
