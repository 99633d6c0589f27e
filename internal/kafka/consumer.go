package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/service"
)

// submitTimeout bounds the merge of a single message
const submitTimeout = 10 * time.Second

// SessionHandler validates and merges raw session payloads
type SessionHandler interface {
	SubmitSession(ctx context.Context, body []byte, source string) (domain.MergeResult, error)
}

// Consumer consumes session payloads from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       SessionHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler SessionHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler SessionHandler
	logger  *slog.Logger
	ready   chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim buffers messages of one partition and merges them in order
// whenever the batch is full or the batch timeout fires. Offsets are marked
// only after the batch was handled, so a crash replays it; replays are
// harmless because merges are idempotent.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]*sarama.ConsumerMessage, 0, h.config.BatchSize)
	batchTimer := time.NewTimer(h.config.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		h.processBatch(batch)
		for _, msg := range batch {
			session.MarkMessage(msg, "")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(h.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			batch = append(batch, message)
			if len(batch) >= h.config.BatchSize {
				flush()
				batchTimer.Reset(h.config.BatchTimeout)
			}
		}
	}
}

// processBatch submits every message of the batch in offset order. A failed
// merge is logged and skipped like an invalid payload; it has already been
// rolled back in full.
func (h *consumerGroupHandler) processBatch(batch []*sarama.ConsumerMessage) {
	var merged, rejected, failed int
	for _, msg := range batch {
		switch err := h.submit(msg); {
		case err == nil:
			merged++
		case domain.IsValidationError(err):
			rejected++
			h.logger.Warn("invalid session message",
				"error", err,
				"offset", msg.Offset,
				"partition", msg.Partition,
			)
		default:
			failed++
			h.logger.Error("failed to merge session message",
				"error", err,
				"offset", msg.Offset,
				"partition", msg.Partition,
			)
		}
	}
	h.logger.Debug("processed batch",
		"batch_size", len(batch),
		"merged", merged,
		"rejected", rejected,
		"failed", failed,
	)
}

// submit uses its own timeout so a rebalance does not abort a merge midway
func (h *consumerGroupHandler) submit(msg *sarama.ConsumerMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	_, err := h.handler.SubmitSession(ctx, msg.Value, service.SourceKafka)
	return err
}
