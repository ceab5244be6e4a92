package service

import (
	"context"

	"tgtriage/internal/metrics"
	"tgtriage/internal/models"
	"tgtriage/internal/queue"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// Publisher fans a normalized event out to live subscribers and reports how many got it
type Publisher interface {
	Publish(ev models.Event) int
}

// RouteOutcome says what the router did with one inbound message
type RouteOutcome string

const (
	RouteDroppedOutgoing   RouteOutcome = "dropped_outgoing"
	RouteDroppedService    RouteOutcome = "dropped_service"
	RouteDroppedNotPrivate RouteOutcome = "dropped_not_private"
	RouteQueuedOnly        RouteOutcome = "queued_only"
	RoutePublished         RouteOutcome = "published"
)

// Router applies the private-chat and empty-content filters to inbound
// messages, feeds the queue store and hands readable events to the hub.
// It only ever adds to queues.
type Router struct {
	queues    *queue.Store
	publisher Publisher
	logger    *logrus.Logger
}

func NewRouter(queues *queue.Store, publisher Publisher, logger *logrus.Logger) *Router {
	return &Router{queues: queues, publisher: publisher, logger: logger}
}

// OnInbound routes one message received on account
func (r *Router) OnInbound(ctx context.Context, account string, msg *types.Message) RouteOutcome {
	outcome := r.route(account, msg)
	metrics.IncrementCounter(metrics.RouterEvents, map[string]string{"outcome": string(outcome)}, "Inbound messages by routing outcome")

	if msg != nil {
		LogInboundMessage(ctx, r.logger, account, msg.Chat.ID, msg.ID, string(outcome), msg.PreviewText())
	}
	return outcome
}

func (r *Router) route(account string, msg *types.Message) RouteOutcome {
	if msg == nil || msg.Service {
		return RouteDroppedService
	}
	if msg.Outgoing {
		return RouteDroppedOutgoing
	}
	if !msg.Chat.IsPrivate() {
		return RouteDroppedNotPrivate
	}

	// content-less arrivals still need attention, they just have nothing to show live
	r.queues.Enqueue(account, msg.Chat.ID)

	if msg.PreviewText() == "" {
		return RouteQueuedOnly
	}

	r.publisher.Publish(models.Event{
		Type:      models.EventTypeMessage,
		Account:   account,
		ChatID:    msg.Chat.ID,
		ChatTitle: chatTitle(msg),
		Message:   messageView(msg),
	})
	return RoutePublished
}

// chatTitle prefers the chat title, then the sender's name, then the sender chat's title
func chatTitle(msg *types.Message) string {
	if msg.Chat.Title != "" {
		return msg.Chat.Title
	}
	if msg.From != nil {
		if name := msg.From.FullName(); name != "" {
			return name
		}
	}
	if msg.SenderChat != nil && msg.SenderChat.Title != "" {
		return msg.SenderChat.Title
	}
	return ""
}

func messageView(msg *types.Message) models.MessageView {
	view := models.MessageView{
		ID:       msg.ID,
		Text:     msg.PreviewText(),
		Outgoing: msg.Outgoing,
	}
	if msg.Date != 0 {
		date := msg.Date
		view.Date = &date
	}
	if msg.From != nil {
		from := msg.From.ID
		view.FromUserID = &from
	}
	return view
}
