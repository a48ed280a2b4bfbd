package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Handler processes one delivered job. A nil return acknowledges the
// message; any error leaves it pending so another read can claim it.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads jobs from the stream as part of a consumer group and
// dispatches them to a bounded worker pool. A second loop periodically
// claims entries whose original consumer went quiet, so a crashed
// worker cannot strand its in-flight jobs.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	readCount     int64
	readInterval  time.Duration
	claimCount    int64
	claimMinIdle  time.Duration
	claimInterval time.Duration
	pool          errgroup.Group
	logger        *slog.Logger
}

type ConsumerConfig struct {
	Addr          string
	Password      string
	Stream        string
	Group         string
	Consumer      string
	ReadCount     int64
	ReadInterval  time.Duration
	ClaimCount    int64
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
	Workers       int
	Logger        *slog.Logger
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = "worker-1"
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 40
	}
	readInterval := cfg.ReadInterval
	if readInterval <= 0 {
		readInterval = time.Second
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = 60 * time.Second
	}
	claimInterval := cfg.ClaimInterval
	if claimInterval <= 0 {
		claimInterval = 30 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 40
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		client:        redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:        stream,
		group:         group,
		consumer:      consumer,
		readCount:     readCount,
		readInterval:  readInterval,
		claimCount:    claimCount,
		claimMinIdle:  claimMinIdle,
		claimInterval: claimInterval,
		logger:        logger,
	}
	c.pool.SetLimit(workers)
	return c, nil
}

// Start consumes until ctx is canceled, then waits for in-flight
// handlers to return.
func (c *Consumer) Start(ctx context.Context, handler Handler) {
	c.createGroup(ctx)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		c.readLoop(ctx, handler)
	}()
	go func() {
		defer loops.Done()
		c.claimLoop(ctx, handler)
	}()
	loops.Wait()
	_ = c.pool.Wait()
}

func (c *Consumer) createGroup(ctx context.Context) {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		c.logger.Error("create consumer group failed",
			"stream", c.stream, "group", c.group, "error", err)
	}
}

func (c *Consumer) readLoop(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(c.readInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.readBatch(ctx, handler)
	}
}

func (c *Consumer) readBatch(ctx context.Context, handler Handler) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.readCount,
		Block:    -1, // no BLOCK arg, the ticker paces reads
	}).Result()
	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			c.logger.Warn("consumer group missing, recreating",
				"stream", c.stream, "group", c.group)
			c.createGroup(ctx)
			return
		}
		c.logger.Error("stream read failed", "stream", c.stream, "error", err)
		return
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.dispatch(ctx, msg, handler)
		}
	}
}

func (c *Consumer) claimLoop(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.claimStalled(ctx, handler)
	}
}

func (c *Consumer) claimStalled(ctx context.Context, handler Handler) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Start:    "0-0",
		Count:    c.claimCount,
	}).Result()
	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			c.createGroup(ctx)
			return
		}
		c.logger.Error("pending claim failed", "stream", c.stream, "error", err)
		return
	}
	if len(msgs) > 0 {
		c.logger.Info("reclaimed stalled messages", "count", len(msgs), "consumer", c.consumer)
	}
	for _, msg := range msgs {
		c.dispatch(ctx, msg, handler)
	}
}

// dispatch blocks while all pool slots are busy, which holds back the
// read loop instead of piling up unacked work.
func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage, handler Handler) {
	c.pool.Go(func() error {
		c.handleMessage(ctx, msg, handler)
		return nil
	})
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	m := decodeMessage(msg)
	if m.PhotoID == "" {
		c.logger.Warn("dropping malformed message", "messageId", msg.ID)
		c.ackAndDel(ctx, msg.ID)
		return
	}
	if err := c.runHandler(ctx, m, handler); err != nil {
		c.logger.Error("message left pending for retry",
			"messageId", msg.ID, "photoId", m.PhotoID, "error", err)
		return
	}
	c.ackAndDel(ctx, msg.ID)
}

func (c *Consumer) runHandler(ctx context.Context, m Message, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, m)
}

func (c *Consumer) ackAndDel(ctx context.Context, msgID string) {
	_, _ = c.client.XAck(ctx, c.stream, c.group, msgID).Result()
	_, _ = c.client.XDel(ctx, c.stream, msgID).Result()
}

func (c *Consumer) Close() error {
	return c.client.Close()
}
