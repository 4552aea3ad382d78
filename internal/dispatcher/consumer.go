package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	handleTimeout  = 30 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds order status changes from Kafka into the dispatcher.
type Consumer struct {
	reader messageReader
	svc    domain.Service
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func newConsumer(reader messageReader, svc domain.Service, log *zap.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		svc:    svc,
		log:    log.Named("dispatcher.consumer"),
		sleep:  sleepContext,
	}
}

// RegisterConsumer starts the consumer with the app when Kafka is enabled.
func RegisterConsumer(lc fx.Lifecycle, cfg config.Config, svc domain.Service, log *zap.Logger) {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	consumer := newConsumer(reader, svc, log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				consumer.Run(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return reader.Close()
				},
			})
			return nil
		},
	})
}

// Run consumes until ctx is canceled. An offset is committed once the
// dispatcher has decided on the message; transient failures are retried
// with backoff and keep the offset in place.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("order status consumer started")
	defer c.log.Info("order status consumer stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch message failed", zap.Error(err))
			if c.sleep(ctx, initialBackoff) != nil {
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("commit offset failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process reports false only when ctx ended before a decision was made.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	backoff := initialBackoff
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if permanent(err) {
			c.log.Warn("dropping order status event",
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
			return true
		}
		c.log.Error("order status event failed, retrying",
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if c.sleep(ctx, backoff) != nil {
			return false
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	event, err := decodeEvent(msg)
	if err != nil {
		return err
	}
	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	outcome, err := c.svc.OnSubjectStatusChanged(handleCtx, event.SubjectID, event.Status)
	if err != nil {
		return err
	}
	c.log.Debug("order status event handled",
		zap.String("subject_id", event.SubjectID),
		zap.String("status", event.Status),
		zap.Bool("triggered", outcome.Triggered),
		zap.String("reason", outcome.Reason),
	)
	return nil
}

func decodeEvent(msg kafka.Message) (domain.StatusChangedEvent, error) {
	var event domain.StatusChangedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, errors.Join(domain.ErrInvalidEvent, err)
	}
	if strings.TrimSpace(event.SubjectID) == "" {
		event.SubjectID = string(msg.Key)
	}
	if strings.TrimSpace(event.SubjectID) == "" || strings.TrimSpace(event.Status) == "" {
		return event, domain.ErrInvalidEvent
	}
	return event, nil
}

// permanent errors cannot succeed on redelivery.
func permanent(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidEvent,
		domain.ErrInvalidSubject,
		domain.ErrInvalidStatus,
		orderdomain.ErrInvalidID,
		orderdomain.ErrOrderNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
