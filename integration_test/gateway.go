package integration_test

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tgtriage/pkg/telegram/types"
)

// MockGateway is a scripted session gateway. Updates are pushed per session
// name and handed out by the long-poll endpoint in update id order.
type MockGateway struct {
	mu             sync.Mutex
	updates        map[string][]types.Update
	nextUpdateID   int64
	dialogs        map[string][]types.Dialog
	reads          map[string][]int64
	requests       map[string]int
	failingUpdates int
	pollWait       time.Duration
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		updates:  make(map[string][]types.Update),
		dialogs:  make(map[string][]types.Dialog),
		reads:    make(map[string][]int64),
		requests: make(map[string]int),
		pollWait: 500 * time.Millisecond,
	}
}

func (g *MockGateway) Handler() http.Handler {
	mux := http.NewServeMux()
	base := types.APIBase + "/{session}"

	mux.HandleFunc("POST "+base+types.EndpointConnect, func(w http.ResponseWriter, r *http.Request) {
		g.count("connect")
		writeJSON(w, http.StatusOK, types.ConnectResponse{Connected: true, Authorized: true})
	})
	mux.HandleFunc("POST "+base+types.EndpointDisconnect, func(w http.ResponseWriter, r *http.Request) {
		g.count("disconnect")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET "+base+types.EndpointMe, func(w http.ResponseWriter, r *http.Request) {
		g.count("me")
		writeJSON(w, http.StatusOK, types.User{ID: 1, FirstName: r.PathValue("session")})
	})
	mux.HandleFunc("GET "+base+types.EndpointDialogs, func(w http.ResponseWriter, r *http.Request) {
		g.count("dialogs")
		g.mu.Lock()
		dialogs := g.dialogs[r.PathValue("session")]
		g.mu.Unlock()
		writeJSON(w, http.StatusOK, types.DialogsResponse{Dialogs: dialogs})
	})
	mux.HandleFunc("POST "+base+types.EndpointChats+"/{chat}"+types.EndpointRead, func(w http.ResponseWriter, r *http.Request) {
		g.count("read")
		chatID, _ := strconv.ParseInt(r.PathValue("chat"), 10, 64)
		g.mu.Lock()
		g.reads[r.PathValue("session")] = append(g.reads[r.PathValue("session")], chatID)
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET "+base+types.EndpointUpdates, g.handleUpdates)

	return mux
}

func (g *MockGateway) handleUpdates(w http.ResponseWriter, r *http.Request) {
	g.count("updates")
	session := r.PathValue("session")
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)

	g.mu.Lock()
	if g.failingUpdates > 0 {
		g.failingUpdates--
		g.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "INTERNAL", Message: "try later"})
		return
	}
	g.mu.Unlock()

	deadline := time.Now().Add(g.pollWait)
	for {
		if pending := g.pending(session, offset); len(pending) > 0 {
			writeJSON(w, http.StatusOK, types.UpdateBatch{Session: session, Updates: pending})
			return
		}
		if time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, types.UpdateBatch{Session: session, Updates: []types.Update{}})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (g *MockGateway) pending(session string, offset int64) []types.Update {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []types.Update
	for _, u := range g.updates[session] {
		if u.UpdateID >= offset {
			out = append(out, u)
		}
	}
	return out
}

// Push queues an inbound message for the session's next poll
func (g *MockGateway) Push(session string, msg types.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextUpdateID++
	g.updates[session] = append(g.updates[session], types.Update{UpdateID: g.nextUpdateID, Message: &msg})
}

func (g *MockGateway) SetDialogs(session string, dialogs []types.Dialog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialogs[session] = dialogs
}

// FailUpdates makes the next n polls answer 503
func (g *MockGateway) FailUpdates(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failingUpdates = n
}

func (g *MockGateway) Reads(session string) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.reads[session]...)
}

func (g *MockGateway) Requests(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[kind]
}

func (g *MockGateway) count(kind string) {
	g.mu.Lock()
	g.requests[kind]++
	g.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
