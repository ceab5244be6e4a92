package integration_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tgtriage/internal/database"
	"tgtriage/internal/hub"
	"tgtriage/internal/models"
	"tgtriage/internal/queue"
	"tgtriage/internal/service"
	"tgtriage/pkg/telegram"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment runs the full inbound pipeline against a mock gateway:
// gateway client, registry, poller, router, queue store, hub and the /ws endpoint
type TestEnvironment struct {
	t        *testing.T
	Gateway  *MockGateway
	DB       *database.Database
	Queues   *queue.Store
	Hub      *hub.Hub
	Registry *service.Registry
	Triage   *service.TriageService
	Poller   *service.UpdatePoller

	gatewayServer *httptest.Server
	wsServer      *httptest.Server
	cancel        context.CancelFunc
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	env := &TestEnvironment{t: t, Gateway: NewMockGateway()}
	env.gatewayServer = httptest.NewServer(env.Gateway.Handler())

	db, err := database.New(filepath.Join(t.TempDir(), "integration.db"))
	require.NoError(t, err)
	env.DB = db

	client := telegram.NewClient(telegram.ClientConfig{
		BaseURL:         env.gatewayServer.URL,
		APIKey:          "integration-key",
		Timeout:         5 * time.Second,
		APIID:           1,
		APIHash:         "hash",
		SessionDir:      t.TempDir(),
		BreakerFailures: 10,
		BreakerTimeout:  time.Second,
	}, env.gatewayServer.Client(), logger)

	env.Queues = queue.NewStore()
	env.Hub = hub.New(16, logger)
	env.Registry = service.NewRegistry(client, "primary", logger)
	router := service.NewRouter(env.Queues, env.Hub, logger)
	env.Triage = service.NewTriageService(env.Registry, env.Queues, db, logger)
	env.Poller = service.NewUpdatePoller(env.Registry, router,
		models.GatewayConfig{PollingEnabled: true, UpdatesTimeoutSec: 1},
		models.RetryConfig{InitialBackoffMs: 10},
		logger)

	env.wsServer = httptest.NewServer(hub.NewWSHandler(env.Hub, nil, time.Second, logger))

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	require.NoError(t, env.Poller.Start(ctx))

	t.Cleanup(env.Cleanup)
	return env
}

// Open creates the session for account so the poller starts watching it
func (env *TestEnvironment) Open(account string) {
	env.t.Helper()
	_, err := env.Registry.GetOrCreate(account)
	require.NoError(env.t, err)
}

// DialWS connects a live-channel client and waits until the hub has registered it
func (env *TestEnvironment) DialWS(ctx context.Context) *websocket.Conn {
	env.t.Helper()
	before := env.Hub.Len()

	url := "ws" + strings.TrimPrefix(env.wsServer.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(env.t, err)

	require.Eventually(env.t, func() bool { return env.Hub.Len() > before }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func (env *TestEnvironment) Cleanup() {
	env.cancel()
	env.Poller.Stop()
	env.Registry.CloseAll(context.Background())
	env.wsServer.Close()
	env.Hub.Close()
	env.gatewayServer.Close()
	_ = env.DB.Close()
}
