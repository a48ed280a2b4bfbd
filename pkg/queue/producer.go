package queue

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Producer appends photo jobs to the stream. It creates the consumer
// group before the first publish so that no entry ever lands on a
// stream without a group to receive it.
type Producer struct {
	client *redis.Client
	stream string
	group  string
	maxLen int64

	mu      sync.Mutex
	grouped bool
}

type ProducerConfig struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	MaxLen   int64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
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
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}

	return &Producer{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		group:  group,
		maxLen: maxLen,
	}, nil
}

// Enqueue publishes one job and returns the stream entry ID.
func (p *Producer) Enqueue(ctx context.Context, job Job) (string, error) {
	if strings.TrimSpace(job.PhotoID) == "" {
		return "", errors.New("photoId required")
	}
	if err := p.ensureGroup(ctx); err != nil {
		return "", err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldPhotoID:     job.PhotoID,
			fieldFilename:    job.Filename,
			fieldStoragePath: job.StoragePath,
		},
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Producer) ensureGroup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grouped {
		return nil
	}
	err := p.client.XGroupCreateMkStream(ctx, p.stream, p.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	p.grouped = true
	return nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}
