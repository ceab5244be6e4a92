package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"tgtriage/internal/database"
	"tgtriage/internal/hub"
	"tgtriage/internal/models"
	"tgtriage/internal/queue"
	"tgtriage/internal/service"
	"tgtriage/pkg/telegram"
	"tgtriage/pkg/telegram/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory session gateway speaking the same wire contract
// as the real sidecar
type fakeGateway struct {
	mu           sync.Mutex
	authorized   bool
	needPassword bool
	me           types.User
	dialogs      []types.Dialog
	history      []types.Message
	historyQuery string
	reads        []int64
	sent         []types.SendTextRequest
	imported     map[string]types.User
	usernames    map[string]types.Chat
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		authorized: true,
		me:         types.User{ID: 1001, FirstName: "Operator", Username: "op"},
		imported:   map[string]types.User{},
		usernames:  map[string]types.Chat{},
	}
}

func (g *fakeGateway) handler() http.Handler {
	r := mux.NewRouter()
	s := r.PathPrefix(types.APIBase + "/{session}").Subrouter()

	s.HandleFunc(types.EndpointConnect, func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		writeGateway(w, http.StatusOK, types.ConnectResponse{Connected: true, Authorized: g.authorized})
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointDisconnect, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointSendCode, func(w http.ResponseWriter, r *http.Request) {
		writeGateway(w, http.StatusOK, types.SentCode{PhoneCodeHash: "hash-1", Type: "app"})
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointSignIn, func(w http.ResponseWriter, r *http.Request) {
		var req types.SignInRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		defer g.mu.Unlock()
		if req.PhoneCodeHash != "hash-1" {
			writeGateway(w, http.StatusBadRequest, types.ErrorResponse{Error: "PHONE_CODE_EXPIRED"})
			return
		}
		if g.needPassword {
			writeGateway(w, http.StatusUnauthorized, types.ErrorResponse{Error: types.RPCSessionPasswordNeeded})
			return
		}
		g.authorized = true
		writeGateway(w, http.StatusOK, g.me)
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointCheckPassword, func(w http.ResponseWriter, r *http.Request) {
		var req types.CheckPasswordRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		defer g.mu.Unlock()
		if req.Password != "secret" {
			writeGateway(w, http.StatusBadRequest, types.ErrorResponse{Error: "PASSWORD_HASH_INVALID"})
			return
		}
		g.authorized = true
		writeGateway(w, http.StatusOK, g.me)
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointMe, func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if !g.authorized {
			writeGateway(w, http.StatusUnauthorized, types.ErrorResponse{Error: types.RPCAuthKeyUnregistered})
			return
		}
		writeGateway(w, http.StatusOK, g.me)
	}).Methods(http.MethodGet)

	s.HandleFunc(types.EndpointDialogs, func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		writeGateway(w, http.StatusOK, types.DialogsResponse{Dialogs: g.dialogs})
	}).Methods(http.MethodGet)

	s.HandleFunc(types.EndpointChats+"/{chat}"+types.EndpointHistory, func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.historyQuery = r.URL.RawQuery
		writeGateway(w, http.StatusOK, types.HistoryResponse{Messages: g.history})
	}).Methods(http.MethodGet)

	s.HandleFunc(types.EndpointChats+"/{chat}"+types.EndpointMessages, func(w http.ResponseWriter, r *http.Request) {
		var req types.SendTextRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		defer g.mu.Unlock()
		g.sent = append(g.sent, req)
		writeGateway(w, http.StatusOK, types.Message{ID: int64(500 + len(g.sent)), Text: req.Text, Outgoing: true})
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointChats+"/{chat}"+types.EndpointRead, func(w http.ResponseWriter, r *http.Request) {
		chatID, _ := strconv.ParseInt(mux.Vars(r)["chat"], 10, 64)
		g.mu.Lock()
		g.reads = append(g.reads, chatID)
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointChats+"/{chat}", func(w http.ResponseWriter, r *http.Request) {
		chatID, _ := strconv.ParseInt(mux.Vars(r)["chat"], 10, 64)
		g.mu.Lock()
		defer g.mu.Unlock()
		for _, d := range g.dialogs {
			if d.Chat.ID == chatID {
				writeGateway(w, http.StatusOK, d.Chat)
				return
			}
		}
		writeGateway(w, http.StatusBadRequest, types.ErrorResponse{Error: types.RPCPeerIDInvalid, Message: "peer id invalid"})
	}).Methods(http.MethodGet)

	s.HandleFunc(types.EndpointImportContact, func(w http.ResponseWriter, r *http.Request) {
		var req types.ImportContactRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		defer g.mu.Unlock()
		resp := types.ImportContactResponse{Users: []types.User{}}
		if u, ok := g.imported[req.Phone]; ok {
			resp.Users = append(resp.Users, u)
		}
		writeGateway(w, http.StatusOK, resp)
	}).Methods(http.MethodPost)

	s.HandleFunc(types.EndpointResolve+"/{username}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if chat, ok := g.usernames[mux.Vars(r)["username"]]; ok {
			writeGateway(w, http.StatusOK, chat)
			return
		}
		writeGateway(w, http.StatusBadRequest, types.ErrorResponse{Error: types.RPCUsernameNotOccupied})
	}).Methods(http.MethodGet)

	s.HandleFunc(types.EndpointUpdates, func(w http.ResponseWriter, r *http.Request) {
		writeGateway(w, http.StatusOK, types.UpdateBatch{Updates: []types.Update{}})
	}).Methods(http.MethodGet)

	return r
}

func (g *fakeGateway) readCalls() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.reads...)
}

func writeGateway(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	server  *Server
	gateway *fakeGateway
	queues  *queue.Store
	hub     *hub.Hub
	db      *database.Database
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig() *models.Config {
	return &models.Config{
		Server: models.ServerConfig{
			Port:              0,
			ReadTimeoutSec:    5,
			WriteTimeoutSec:   5,
			IdleTimeoutSec:    5,
			LoginTTLHours:     1,
			CleanupIntervalHr: 1,
		},
		Telegram: models.TelegramConfig{APIID: 1, APIHash: "hash", DefaultSession: "primary", SessionDir: "sessions"},
		Hub:      models.HubConfig{SubscriberBuffer: 8, WriteTimeoutMs: 1000},
	}
}

// newTestEnv wires the real service graph against a fake gateway
func newTestEnv(t *testing.T, cfg *models.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	logger := testLogger()

	gw := newFakeGateway()
	gwServer := httptest.NewServer(gw.handler())
	t.Cleanup(gwServer.Close)
	cfg.Gateway.BaseURL = gwServer.URL

	db, err := database.New(filepath.Join(t.TempDir(), "tgtriage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := telegram.NewClient(clientConfig(cfg), gwServer.Client(), logger)
	queues := queue.NewStore()
	broadcast := hub.New(cfg.Hub.SubscriberBuffer, logger)
	t.Cleanup(broadcast.Close)

	registry := service.NewRegistry(client, cfg.Telegram.DefaultSession, logger)
	inbound := service.NewRouter(queues, broadcast, logger)
	triage := service.NewTriageService(registry, queues, db, logger)

	return &testEnv{
		server:  NewServer(cfg, triage, inbound, broadcast, db, logger),
		gateway: gw,
		queues:  queues,
		hub:     broadcast,
		db:      db,
	}
}
