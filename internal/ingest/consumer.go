package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnemolite/mnemolite/internal/config"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

const (
	consumerName = "mnemolite-core"
	readBlock    = 5 * time.Second
	readCount    = 32
)

// Consumer tails a Redis stream of transcript messages. Each entry carries
// the message as JSON under the "message" field. Entries are acked after a
// successful handle or a permanent rejection; transient failures leave the
// entry pending for redelivery.
type Consumer struct {
	client   *redis.Client
	ingestor *Ingestor
	stream   string
	group    string
	logger   *slog.Logger
}

func NewConsumer(cfg config.IngestConfig, ingestor *Ingestor, logger *slog.Logger) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, mnerr.New(mnerr.KindBadRequest, "ingest redis_url is not configured")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.KindBadRequest, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   redis.NewClient(opts),
		ingestor: ingestor,
		stream:   cfg.Stream,
		group:    cfg.Group,
		logger:   logger,
	}, nil
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("ingest_consumer_started",
		slog.String("stream", c.stream),
		slog.String("group", c.group))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("ingest_read_failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				c.handleEntry(ctx, entry)
			}
		}
	}
}

func (c *Consumer) handleEntry(ctx context.Context, entry redis.XMessage) {
	raw, _ := entry.Values["message"].(string)
	var msg Message
	if raw == "" || json.Unmarshal([]byte(raw), &msg) != nil {
		c.logger.Warn("ingest_entry_malformed", slog.String("entry_id", entry.ID))
		c.ack(ctx, entry.ID)
		return
	}

	id, accepted, err := c.ingestor.Handle(ctx, &msg)
	switch {
	case err == nil:
		if accepted {
			c.logger.Debug("ingest_entry_stored",
				slog.String("entry_id", entry.ID),
				slog.String("event_id", id.String()))
		}
		c.ack(ctx, entry.ID)
	case mnerr.KindOf(err).CallerFault():
		c.logger.Warn("ingest_entry_rejected",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()))
		c.ack(ctx, entry.ID)
	default:
		// Transient: leave pending for redelivery.
		c.logger.Warn("ingest_entry_deferred",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()))
	}
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.client.XAck(ctx, c.stream, c.group, entryID).Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("ingest_ack_failed", slog.String("entry_id", entryID))
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return mnerr.Wrap(mnerr.KindStoreUnavailable, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}
