package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/media"
	"github.com/chatly/chat-app/internal/metrics"
	"github.com/chatly/chat-app/internal/ratelimit"
)

// ErrRateLimited is returned when the sender exceeded the send rate.
var ErrRateLimited = errors.New("messages: rate limit exceeded")

// Router pushes a persisted message to the receiver's live connection.
type Router interface {
	Route(msg chat.Message) bool
}

// Publisher announces persisted messages to other services.
type Publisher interface {
	PublishMessageCreated(msg chat.Message) error
}

// Limiter throttles senders.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Service implements sending and history retrieval.
type Service struct {
	repo      Repository
	router    Router
	uploader  media.Uploader
	publisher Publisher
	limiter   Limiter
	now       func() time.Time
	log       *zap.Logger
}

// NewService creates a Service. router may be nil, in which case messages are
// stored but never pushed.
func NewService(repo Repository, router Router, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		router:   router,
		uploader: media.Disabled{},
		now:      time.Now,
		log:      logger,
	}
}

// SetUploader sets the image store used for image messages.
func (s *Service) SetUploader(u media.Uploader) {
	s.uploader = u
}

// SetPublisher sets the event publisher notified after each send.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetLimiter enables per-sender rate limiting.
func (s *Service) SetLimiter(l Limiter) {
	s.limiter = l
}

// Send validates, stores and routes a message from senderID to receiverID.
// image is a data URI; it is uploaded and replaced by its URL before the
// message is stored. Nothing is pushed if storing fails.
func (s *Service) Send(ctx context.Context, senderID, receiverID, text, image string) (chat.Message, error) {
	start := s.now()

	if receiverID == "" {
		metrics.MessagesSent.WithLabelValues(metrics.SendRejected).Inc()
		return chat.Message{}, fmt.Errorf("%w: receiver is required", chat.ErrInvalidContent)
	}
	if err := chat.ValidateContent(text, image); err != nil {
		metrics.MessagesSent.WithLabelValues(metrics.SendRejected).Inc()
		return chat.Message{}, err
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, senderID, ratelimit.RuleSend)
		if err != nil {
			s.log.Warn("[messages] rate limit check failed", zap.String("sender", senderID), zap.Error(err))
		}
		if !allowed {
			metrics.MessagesSent.WithLabelValues(metrics.SendRejected).Inc()
			return chat.Message{}, ErrRateLimited
		}
	}

	var imageURL string
	if image != "" {
		url, err := s.uploader.Upload(ctx, image)
		if err != nil {
			metrics.MessagesSent.WithLabelValues(metrics.SendFailed).Inc()
			return chat.Message{}, err
		}
		imageURL = url
	}

	msg, err := s.repo.Create(ctx, chat.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		ImageURL:   imageURL,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues(metrics.SendFailed).Inc()
		s.log.Error("[messages] persist failed",
			zap.String("sender", senderID),
			zap.String("receiver", receiverID),
			zap.Error(err),
		)
		return chat.Message{}, err
	}
	metrics.MessagesSent.WithLabelValues(metrics.SendPersisted).Inc()

	if s.router != nil {
		s.router.Route(msg)
	}
	metrics.SendLatency.Observe(s.now().Sub(start).Seconds())

	if s.publisher != nil {
		if err := s.publisher.PublishMessageCreated(msg); err != nil {
			s.log.Warn("[messages] publish failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return msg, nil
}

// History returns the conversation between me and other, oldest first.
func (s *Service) History(ctx context.Context, me, other string) ([]chat.Message, error) {
	return s.repo.ListBetween(ctx, me, other)
}
