package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/model"
	"github.com/shoplane/chat-pipeline/internal/queue"
	"github.com/shoplane/chat-pipeline/internal/unseen"
	"github.com/shoplane/chat-pipeline/pkg/logger"
	"github.com/shoplane/chat-pipeline/pkg/metrics"
)

// Router delivers inbound chat events: live to connected parties when
// possible, and unconditionally to the durable queue, which is the only
// durability path. It holds no state of its own beyond its collaborators.
type Router struct {
	registry  *Registry
	unseen    unseen.Ledger
	publisher queue.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewRouter creates a router over the process registry, the shared-cache
// unseen ledger, and the durable queue producer.
func NewRouter(registry *Registry, ledger unseen.Ledger, publisher queue.Publisher, log *logger.Logger) *Router {
	return &Router{
		registry:  registry,
		unseen:    ledger,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MarkSeen clears the caller's unseen counter for a conversation. It has no
// persistence side effect.
func (rt *Router) MarkSeen(ctx context.Context, identity, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("mark seen: missing conversation id")
	}
	return rt.unseen.Clear(ctx, identity, conversationID)
}

// Route handles one inbound chat-send event. Invalid events are dropped and
// logged, never queued. For valid events it bumps the recipient's unseen
// counter, attempts live delivery to the recipient, echoes to the sender, and
// then publishes to the durable queue keyed by conversation id. The publish
// happens regardless of live-delivery outcome; a publish failure is the one
// error surfaced to the caller since it has no retry path.
func (rt *Router) Route(ctx context.Context, ev *model.InboundEvent) error {
	if err := validateChatSend(ev); err != nil {
		metrics.MessagesInvalid.Inc()
		rt.log.Warn("invalid chat event dropped", zap.Error(err))
		return nil
	}

	msg := model.ChatMessage{
		ConversationID: ev.ConversationID,
		SenderID:       ev.FromUserID,
		SenderType:     ev.SenderType,
		Content:        ev.MessageBody,
		CreatedAt:      rt.now(),
	}

	receiverKey := ev.SenderType.Counterpart().Key(ev.ToUserID)
	senderKey := ev.SenderType.Key(ev.FromUserID)

	count, countErr := rt.unseen.Increment(ctx, receiverKey, msg.ConversationID)
	if countErr != nil {
		rt.log.Warn("unseen increment failed",
			zap.String("receiver", receiverKey),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(countErr),
		)
	}

	// Live delivery first; absence of the recipient is not an error, the
	// message is simply queued-for-later.
	if rc, ok := rt.registry.Lookup(receiverKey); ok {
		delivered := rc.Enqueue(model.NewMessageEvent(&msg))
		if delivered && countErr == nil {
			rc.Enqueue(model.UnseenCountEvent(msg.ConversationID, count))
		}
		if delivered {
			metrics.LiveDeliveries.WithLabelValues("delivered").Inc()
		} else {
			metrics.LiveDeliveries.WithLabelValues("dropped").Inc()
		}
	} else {
		metrics.LiveDeliveries.WithLabelValues("offline").Inc()
	}

	// Echo back to the sender's own connection if still open.
	if sc, ok := rt.registry.Lookup(senderKey); ok {
		sc.Enqueue(model.NewMessageEvent(&msg))
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := rt.publisher.Publish(ctx, msg.ConversationID, data); err != nil {
		metrics.QueuePublishFailures.Inc()
		rt.log.Error("durable publish failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
		return fmt.Errorf("publish message: %w", err)
	}

	metrics.MessagesRouted.WithLabelValues(string(ev.SenderType)).Inc()
	return nil
}

func validateChatSend(ev *model.InboundEvent) error {
	switch {
	case ev.FromUserID == "":
		return fmt.Errorf("missing fromUserId")
	case ev.ToUserID == "":
		return fmt.Errorf("missing toUserId")
	case ev.ConversationID == "":
		return fmt.Errorf("missing conversationId")
	case ev.MessageBody == "":
		return fmt.Errorf("missing messageBody")
	case !ev.SenderType.Valid():
		return fmt.Errorf("unknown senderType %q", ev.SenderType)
	}
	return nil
}
