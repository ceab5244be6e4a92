package hub

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tgtriage/internal/constants"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// WSHandler upgrades /ws requests and pumps hub events to the client.
// Client frames are read and discarded; they only keep the connection alive.
type WSHandler struct {
	hub            *Hub
	logger         *logrus.Logger
	originPatterns []string
	writeTimeout   time.Duration
}

// NewWSHandler builds the live-channel handler. An empty origin list accepts any origin.
func NewWSHandler(h *Hub, allowedOrigins []string, writeTimeout time.Duration, logger *logrus.Logger) *WSHandler {
	if writeTimeout <= 0 {
		writeTimeout = time.Duration(constants.DefaultSubscriberWriteTimeoutMs) * time.Millisecond
	}
	return &WSHandler{
		hub:            h,
		logger:         logger,
		originPatterns: originPatterns(allowedOrigins),
		writeTimeout:   writeTimeout,
	}
}

// originPatterns converts configured origins into the host patterns the upgrader matches
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// server read/write timeouts must not outlive the upgrade
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept websocket")
		return
	}
	conn.SetReadLimit(constants.DefaultWebSocketReadLimit)

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	status, reason := h.pump(ctx, conn, sub)
	_ = conn.Close(status, reason)
}

func (h *WSHandler) pump(ctx context.Context, conn *websocket.Conn, sub *Subscriber) (websocket.StatusCode, string) {
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, ""
		case <-sub.Done():
			return websocket.StatusPolicyViolation, "subscriber dropped"
		case ev := <-sub.Events():
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.WithFields(logrus.Fields{
						"component":     "hub",
						"subscriber_id": sub.ID(),
					}).WithError(err).Debug("Websocket write failed")
				}
				return websocket.StatusGoingAway, "write failed"
			}
		}
	}
}
