package conversation

import (
	"context"
	"fmt"

	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/morbidsteve/agent-orchestra/internal/events"
	"github.com/morbidsteve/agent-orchestra/internal/events/bus"
	"github.com/morbidsteve/agent-orchestra/internal/stream"
	"go.uber.org/zap"
)

// Publisher is the slice of the stream broker the service needs.
type Publisher interface {
	Publish(streamID string, frame any)
}

// Service mirrors task state changes from the audit bus into the owning
// conversation: an assistant message plus a conversation-update frame on the
// conversation stream.
type Service struct {
	store  *Store
	broker Publisher
	bus    bus.EventBus
	logger *logger.Logger
	sub    bus.Subscription
}

func NewService(store *Store, broker Publisher, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		broker: broker,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "conversation-service")),
	}
}

// Start subscribes to task state changes. Call Stop to detach.
func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(events.BuildTaskStateWildcardSubject(), s.onTaskStateChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task state events: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

func (s *Service) onTaskStateChanged(_ context.Context, event *bus.Event) error {
	taskID, _ := event.Data["task_id"].(string)
	status, _ := event.Data["status"].(string)
	if taskID == "" || status == "" {
		return nil
	}

	conv, ok := s.store.ByTask(taskID)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("Task %s is %s.", taskID, status)
	if message, _ := event.Data["message"].(string); message != "" {
		text = message
	}

	msg, err := s.store.Append(conv.ID, RoleAssistant, text, taskID)
	if err != nil {
		return err
	}
	s.broker.Publish(stream.ConversationStream(conv.ID), stream.NewConversationUpdateFrame(msg))

	if isTerminal(status) {
		s.store.UnlinkTask(taskID)
	}
	s.logger.Debug("conversation updated from task state",
		zap.String("conversation_id", conv.ID),
		zap.String("task_id", taskID),
		zap.String("status", status),
	)
	return nil
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed"
}
