package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	apperrors "tgtriage/internal/errors"
	"tgtriage/internal/metrics"
	"tgtriage/internal/privacy"
	"tgtriage/internal/tracing"
	"tgtriage/pkg/circuitbreaker"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// GatewayError is the decoded error body of a failed gateway call
type GatewayError struct {
	StatusCode int
	RPC        string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.RPC == "" {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("[%d %s]", e.StatusCode, e.RPC)
	}
	return fmt.Sprintf("[%d %s] %s", e.StatusCode, e.RPC, e.Message)
}

type session struct {
	client    *Client
	account   string
	name      string
	breaker   *circuitbreaker.CircuitBreaker
	connected atomic.Bool
}

var _ types.Session = (*session)(nil)

// call describes one gateway request. resource names the thing a 404 refers to.
type call struct {
	op       string
	method   string
	path     string
	query    url.Values
	body     interface{}
	out      interface{}
	resource string
	timeout  time.Duration
}

func (s *session) Account() string   { return s.account }
func (s *session) Name() string      { return s.name }
func (s *session) IsConnected() bool { return s.connected.Load() }

func (s *session) Connect(ctx context.Context) error {
	cfg := s.client.cfg
	req := types.ConnectRequest{
		APIID:   cfg.APIID,
		APIHash: cfg.APIHash,
		Workdir: cfg.SessionDir,
		Proxy:   cfg.Proxy,
	}
	var resp types.ConnectResponse
	if err := s.do(ctx, call{op: "connect", method: http.MethodPost, path: types.EndpointConnect, body: req, out: &resp}); err != nil {
		return err
	}
	s.connected.Store(true)

	s.client.logger.WithFields(logrus.Fields{
		"account":    privacy.MaskAccount(s.account),
		"session":    privacy.MaskSessionName(s.name),
		"authorized": resp.Authorized,
	}).Debug("Gateway session connected")
	return nil
}

func (s *session) Close(ctx context.Context) error {
	if !s.connected.Swap(false) {
		return nil
	}
	return s.do(ctx, call{op: "disconnect", method: http.MethodPost, path: types.EndpointDisconnect})
}

func (s *session) SendCode(ctx context.Context, phone string) (*types.SentCode, error) {
	var sent types.SentCode
	err := s.do(ctx, call{
		op:     "send_code",
		method: http.MethodPost,
		path:   types.EndpointSendCode,
		body:   types.SendCodeRequest{Phone: phone},
		out:    &sent,
	})
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

func (s *session) SignIn(ctx context.Context, phone, code, phoneCodeHash string) (*types.User, error) {
	var user types.User
	err := s.do(ctx, call{
		op:     "sign_in",
		method: http.MethodPost,
		path:   types.EndpointSignIn,
		body:   types.SignInRequest{Phone: phone, Code: code, PhoneCodeHash: phoneCodeHash},
		out:    &user,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *session) CheckPassword(ctx context.Context, password string) (*types.User, error) {
	var user types.User
	err := s.do(ctx, call{
		op:     "check_password",
		method: http.MethodPost,
		path:   types.EndpointCheckPassword,
		body:   types.CheckPasswordRequest{Password: password},
		out:    &user,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *session) GetMe(ctx context.Context) (*types.User, error) {
	var user types.User
	if err := s.do(ctx, call{op: "get_me", method: http.MethodGet, path: types.EndpointMe, out: &user}); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *session) GetDialogs(ctx context.Context, limit int) ([]types.Dialog, error) {
	var resp types.DialogsResponse
	err := s.do(ctx, call{
		op:     "get_dialogs",
		method: http.MethodGet,
		path:   types.EndpointDialogs,
		query:  url.Values{"limit": {strconv.Itoa(limit)}},
		out:    &resp,
	})
	if err != nil {
		return nil, err
	}
	return resp.Dialogs, nil
}

func (s *session) GetHistory(ctx context.Context, chatID int64, limit int, maxID int64) ([]types.Message, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if maxID > 0 {
		q.Set("max_id", strconv.FormatInt(maxID, 10))
	}
	var resp types.HistoryResponse
	err := s.do(ctx, call{
		op:       "get_history",
		method:   http.MethodGet,
		path:     chatPath(chatID, types.EndpointHistory),
		query:    q,
		out:      &resp,
		resource: "chat",
	})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (s *session) GetChat(ctx context.Context, chatID int64) (*types.Chat, error) {
	var chat types.Chat
	err := s.do(ctx, call{op: "get_chat", method: http.MethodGet, path: chatPath(chatID, ""), out: &chat, resource: "chat"})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *session) SendText(ctx context.Context, chatID int64, text string, replyTo *int64) (*types.Message, error) {
	var msg types.Message
	err := s.do(ctx, call{
		op:       "send_message",
		method:   http.MethodPost,
		path:     chatPath(chatID, types.EndpointMessages),
		body:     types.SendTextRequest{Text: text, ReplyToMessageID: replyTo},
		out:      &msg,
		resource: "chat",
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *session) ReadHistory(ctx context.Context, chatID int64) error {
	return s.do(ctx, call{op: "read_history", method: http.MethodPost, path: chatPath(chatID, types.EndpointRead), resource: "chat"})
}

func (s *session) ImportContactByPhone(ctx context.Context, phone string) (*types.User, error) {
	var resp types.ImportContactResponse
	err := s.do(ctx, call{
		op:     "import_contact",
		method: http.MethodPost,
		path:   types.EndpointImportContact,
		// the gateway rejects an empty first name
		body:     types.ImportContactRequest{Phone: phone, FirstName: "."},
		out:      &resp,
		resource: "user",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, apperrors.NewNotFoundError("user", privacy.MaskPhoneNumber(phone))
	}
	return &resp.Users[0], nil
}

func (s *session) ResolveUsername(ctx context.Context, username string) (*types.Chat, error) {
	var chat types.Chat
	err := s.do(ctx, call{
		op:       "resolve_username",
		method:   http.MethodGet,
		path:     types.EndpointResolve + "/" + url.PathEscape(username),
		out:      &chat,
		resource: "user",
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *session) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]types.Update, error) {
	var batch types.UpdateBatch
	err := s.do(ctx, call{
		op:     "get_updates",
		method: http.MethodGet,
		path:   types.EndpointUpdates,
		query: url.Values{
			"offset":  {strconv.FormatInt(offset, 10)},
			"timeout": {strconv.Itoa(timeoutSec)},
		},
		out:     &batch,
		timeout: s.client.cfg.Timeout + time.Duration(timeoutSec)*time.Second,
	})
	if err != nil {
		return nil, err
	}
	return batch.Updates, nil
}

func chatPath(chatID int64, suffix string) string {
	return types.EndpointChats + "/" + strconv.FormatInt(chatID, 10) + suffix
}

// do runs one request through the session's circuit breaker
func (s *session) do(ctx context.Context, c call) error {
	ctx, span := tracing.StartSpan(ctx, "telegram."+c.op,
		attribute.String("telegram.session", privacy.MaskSessionName(s.name)),
		attribute.String("telegram.op", c.op),
	)
	defer span.End()

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.roundTrip(ctx, c)
	})
	s.recordBreaker()
	if circuitbreaker.IsCircuitBreakerError(err) {
		err = apperrors.NewAPIError("telegram", c.op, http.StatusServiceUnavailable, err)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *session) roundTrip(ctx context.Context, c call) error {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = s.client.cfg.Timeout
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := s.client.cfg.BaseURL + types.APIBase + "/" + url.PathEscape(s.name) + c.path
	if len(c.query) > 0 {
		endpoint += "?" + c.query.Encode()
	}

	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to marshal gateway request")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to create gateway request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.client.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", s.client.cfg.APIKey)
	}
	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		req.Header.Set(tracing.RequestIDHeader, requestID)
	}

	start := time.Now()
	resp, err := s.client.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		s.record(c.op, "error", elapsed)
		// the gateway may have lost our client; force a reconnect next time.
		// A caller that gave up says nothing about the gateway.
		if parent.Err() == nil {
			s.connected.Store(false)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return apperrors.NewTimeoutError("telegram "+c.op, timeout.String(), err)
			}
		}
		return apperrors.WrapRetryable(err, apperrors.ErrCodeTelegramAPI, "telegram API call failed").
			WithContext("service", "telegram").
			WithContext("endpoint", c.op).
			WithUserMessage(err.Error())
	}
	defer resp.Body.Close()
	s.record(c.op, strconv.Itoa(resp.StatusCode), elapsed)

	s.client.logger.WithFields(logrus.Fields{
		"op":          c.op,
		"session":     privacy.MaskSessionName(s.name),
		"status_code": resp.StatusCode,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Gateway call completed")

	if resp.StatusCode >= http.StatusBadRequest {
		return s.classify(c, resp)
	}

	if c.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(c.out); err != nil {
		return apperrors.NewAPIError("telegram", c.op, resp.StatusCode, fmt.Errorf("failed to decode gateway response: %w", err))
	}
	return nil
}

// classify turns a gateway error response into the error taxonomy the handlers understand
func (s *session) classify(c call, resp *http.Response) error {
	gwErr := &GatewayError{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body types.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		gwErr.RPC = body.Error
		gwErr.Message = body.Message
	} else {
		gwErr.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case gwErr.RPC == types.RPCSessionPasswordNeeded:
		return apperrors.NewAuthChallengeError(gwErr)
	case resp.StatusCode == http.StatusUnauthorized || gwErr.RPC == types.RPCAuthKeyUnregistered:
		return apperrors.NewNotAuthorizedError(s.account, gwErr)
	case resp.StatusCode == http.StatusNotFound,
		gwErr.RPC == types.RPCUsernameNotOccupied,
		gwErr.RPC == types.RPCUsernameInvalid,
		gwErr.RPC == types.RPCPeerIDInvalid:
		resource := c.resource
		if resource == "" {
			resource = "resource"
		}
		notFound := apperrors.NewNotFoundError(resource, c.op)
		notFound.Cause = gwErr
		return notFound
	case gwErr.RPC == types.RPCSessionNotConnected:
		s.connected.Store(false)
	}

	return apperrors.NewAPIError("telegram", c.op, resp.StatusCode, gwErr)
}

func (s *session) record(op, status string, elapsed time.Duration) {
	labels := map[string]string{"op": op, "status": status}
	metrics.IncrementCounter(metrics.GatewayRequests, labels, "Session gateway requests")
	metrics.RecordTimer(metrics.GatewayLatency, elapsed, map[string]string{"op": op}, "Session gateway request latency")
}

func (s *session) recordBreaker() {
	stats := s.breaker.GetStats()
	labels := map[string]string{"session": privacy.MaskSessionName(s.name)}
	metrics.SetGauge(metrics.GatewayBreakerState, float64(stats.State), labels, "Session gateway circuit state (0 closed, 1 open, 2 half-open)")
	metrics.SetGauge(metrics.GatewayBreakerFailures, float64(stats.Failures), labels, "Consecutive session gateway failures")
}
