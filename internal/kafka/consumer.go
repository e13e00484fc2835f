package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/gamehub-backend/internal/auth"
	"github.com/gamehub-backend/internal/config"
	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
)

// HeartbeatHandler publishes a server on behalf of verified claims
type HeartbeatHandler interface {
	PublishServer(ctx context.Context, claims auth.Claims, req domain.PublishServerRequest) (*domain.ServerRecord, error)
}

// TokenVerifier turns a bearer token into claims
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Heartbeat is the message a dedicated game server produces while it is up.
// Token is the server's bearer credential; the remaining fields are the
// record it publishes.
type Heartbeat struct {
	Token     string      `json:"token"`
	Address   string      `json:"address"`
	PlayerIDs []uuid.UUID `json:"player_ids"`
	MapName   string      `json:"map_name"`
}

// Request returns the publish request carried by the heartbeat
func (h Heartbeat) Request() domain.PublishServerRequest {
	return domain.PublishServerRequest{
		Address:   h.Address,
		PlayerIDs: h.PlayerIDs,
		MapName:   h.MapName,
	}
}

// Consumer consumes server heartbeats from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       HeartbeatHandler
	verifier      TokenVerifier
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

const (
	defaultStartupTimeout = 30 * time.Second
	minRetryDelay         = 10 * time.Millisecond
)

// NewConsumer creates a new Kafka heartbeat consumer
func NewConsumer(cfg *config.KafkaConfig, handler HeartbeatHandler, verifier TokenVerifier, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	consumer := newConsumer(cfg, handler, verifier, logger)
	consumer.consumerGroup = consumerGroup
	return consumer, nil
}

func newConsumer(cfg *config.KafkaConfig, handler HeartbeatHandler, verifier TokenVerifier, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:   cfg,
		handler:  handler,
		verifier: verifier,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins consuming heartbeats. It returns once the first session is
// set up, or with an error if that does not happen within the startup
// timeout.
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan bool)
	c.wg.Add(1)
	go c.consume(ready)

	timeout := c.config.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-c.ctx.Done():
		c.wg.Wait()
		return c.ctx.Err()
	case <-timer.C:
		c.cancel()
		c.wg.Wait()
		return fmt.Errorf("kafka consumer not ready after %s", timeout)
	}
	c.logger.Info("kafka consumer ready")

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

// consume runs sessions until the consumer is stopped. ready is closed by
// the first session's Setup; a session that failed before Setup keeps the
// same channel so Start still sees it.
func (c *Consumer) consume(ready chan bool) {
	defer c.wg.Done()
	for {
		handler := &consumerGroupHandler{
			consumer: c,
			ready:    ready,
		}

		if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Error("error from consumer", "error", err)
			if !sleep(c.ctx, c.config.RetryDelay) {
				return
			}
		}

		if c.ctx.Err() != nil {
			return
		}

		select {
		case <-ready:
			ready = make(chan bool)
		default:
		}
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// decode parses a heartbeat message. Malformed messages are reported and
// skipped by the caller.
func (c *Consumer) decode(message *sarama.ConsumerMessage) (Heartbeat, bool) {
	var heartbeat Heartbeat
	if err := json.Unmarshal(message.Value, &heartbeat); err != nil {
		c.logger.Warn("failed to unmarshal heartbeat",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return Heartbeat{}, false
	}
	if heartbeat.Token == "" || heartbeat.Address == "" {
		c.logger.Warn("invalid heartbeat",
			"address", heartbeat.Address,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return Heartbeat{}, false
	}
	return heartbeat, true
}

// publishBatch publishes the newest heartbeat of every address in batch.
// Each heartbeat is authorized on its own token, so a rejected server never
// affects the others.
func (c *Consumer) publishBatch(ctx context.Context, batch []Heartbeat) (published int) {
	latest := make(map[string]int, len(batch))
	order := make([]string, 0, len(batch))
	for i, heartbeat := range batch {
		if _, seen := latest[heartbeat.Address]; !seen {
			order = append(order, heartbeat.Address)
		}
		latest[heartbeat.Address] = i
	}

	for _, address := range order {
		heartbeat := batch[latest[address]]

		claims, err := c.verifier.Verify(heartbeat.Token)
		if err != nil {
			c.logger.Warn("rejected heartbeat credential", "address", address, "error", err)
			continue
		}

		if err := c.publish(ctx, claims, heartbeat.Request()); err != nil {
			c.logger.Warn("failed to publish heartbeat",
				"address", address,
				"reason", domain.Reason(err),
				"error", err,
			)
			continue
		}
		published++
	}
	return published
}

// publish hands one heartbeat to the handler, retrying store failures up to
// RetryAttempts more times. Any other error is final.
func (c *Consumer) publish(ctx context.Context, claims auth.Claims, req domain.PublishServerRequest) error {
	for attempt := 0; ; attempt++ {
		_, err := c.handler.PublishServer(ctx, claims, req)
		if err == nil || !errors.Is(err, domain.ErrStoreFailure) || attempt >= c.config.RetryAttempts {
			return err
		}
		c.logger.Debug("retrying heartbeat after store failure",
			"address", req.Address,
			"attempt", attempt+1,
			"error", err,
		)
		if !sleep(ctx, c.config.RetryDelay) {
			return err
		}
	}
}

// sleep waits for d, or less if ctx ends first. It reports whether the
// full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d < minRetryDelay {
		d = minRetryDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
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

// ConsumeClaim collects heartbeats into batches bounded by size and time
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]Heartbeat, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		published := h.consumer.publishBatch(ctx, batch)
		h.consumer.logger.Debug("processed heartbeat batch",
			"batch_size", len(batch),
			"published", published,
		)

		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			if heartbeat, ok := h.consumer.decode(message); ok {
				batch = append(batch, heartbeat)
			}
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
