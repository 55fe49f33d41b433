package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"wex-mcp-api/internal/model"

	"github.com/redis/go-redis/v9"
)

// Buffer configuration
const (
	MaxBatchSize  = 50
	FlushTimeout  = 60 * time.Second
	PruneInterval = 5 * time.Minute
)

// FlushFunc is called to persist buffered documents to the database.
type FlushFunc func(ctx context.Context, docs []*model.BufferedDocument) error

// deleteIfUnchangedScript drops a flushed entry unless it was rewritten meanwhile.
var deleteIfUnchangedScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
		redis.call("HDEL", KEYS[1], ARGV[1])
		redis.call("SREM", KEYS[2], ARGV[1])
		return 1
	else
		return 0
	end
`)

// RedisDocumentBuffer uses Redis for write-behind persistence of profiles and
// friend graphs. Reads must check the buffer before the database.
type RedisDocumentBuffer struct {
	client      *redis.Client
	flushFunc   FlushFunc
	flushTicker *time.Ticker
	pruneTicker *time.Ticker
	stop        chan struct{}
	done        sync.WaitGroup
	stopOnce    sync.Once
	keyPrefix   string
}

// RedisBufferConfig holds configuration for the Redis buffer.
type RedisBufferConfig struct {
	Addr          string
	Password      string
	DB            int
	FlushInterval time.Duration
	KeyPrefix     string
}

// NewRedisDocumentBuffer connects to Redis and starts the background flusher.
func NewRedisDocumentBuffer(cfg RedisBufferConfig, flushFunc FlushFunc) (*RedisDocumentBuffer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return newRedisDocumentBuffer(client, cfg, flushFunc), nil
}

func newRedisDocumentBuffer(client *redis.Client, cfg RedisBufferConfig, flushFunc FlushFunc) *RedisDocumentBuffer {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "wex:documents"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	b := &RedisDocumentBuffer{
		client:      client,
		flushFunc:   flushFunc,
		flushTicker: time.NewTicker(cfg.FlushInterval),
		pruneTicker: time.NewTicker(PruneInterval),
		stop:        make(chan struct{}),
		keyPrefix:   keyPrefix,
	}

	b.done.Add(2)
	go b.backgroundFlush()
	go b.backgroundPrune()

	log.Printf("[RedisDocumentBuffer] Started - DB:%d, prefix:%s, flush:%v, batch:%d",
		cfg.DB, keyPrefix, cfg.FlushInterval, MaxBatchSize)
	return b
}

func (b *RedisDocumentBuffer) bufferKey() string {
	return b.keyPrefix + ":buffer"
}

func (b *RedisDocumentBuffer) pendingKey() string {
	return b.keyPrefix + ":pending"
}

// Add buffers a document write in Redis.
func (b *RedisDocumentBuffer) Add(ctx context.Context, key model.DocumentKey, rawJSON []byte) error {
	data := &model.BufferedDocument{
		Key:       key,
		RawJSON:   rawJSON,
		UpdatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	field := key.String()
	pipe := b.client.Pipeline()
	pipe.HSet(ctx, b.bufferKey(), field, jsonData)
	pipe.SAdd(ctx, b.pendingKey(), field)
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a buffered document. Returns nil, nil when none is pending.
func (b *RedisDocumentBuffer) Get(ctx context.Context, key model.DocumentKey) (*model.BufferedDocument, error) {
	data, err := b.client.HGet(ctx, b.bufferKey(), key.String()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc model.BufferedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Count returns the number of pending documents.
func (b *RedisDocumentBuffer) Count(ctx context.Context) (int64, error) {
	return b.client.SCard(ctx, b.pendingKey()).Result()
}

// FlushBatch writes up to MaxBatchSize documents to the database.
func (b *RedisDocumentBuffer) FlushBatch(ctx context.Context) (int, error) {
	fields, err := b.client.SRandMemberN(ctx, b.pendingKey(), MaxBatchSize).Result()
	if err != nil {
		return 0, err
	}

	if len(fields) == 0 {
		return 0, nil
	}

	docs := make([]*model.BufferedDocument, 0, len(fields))
	originalData := make(map[string]string)

	for _, field := range fields {
		data, err := b.client.HGet(ctx, b.bufferKey(), field).Bytes()
		if err == redis.Nil {
			b.client.SRem(ctx, b.pendingKey(), field)
			continue
		}
		if err != nil {
			log.Printf("[RedisDocumentBuffer] Error getting %s: %v", field, err)
			continue
		}

		originalData[field] = string(data)

		var doc model.BufferedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Printf("[RedisDocumentBuffer] Dropping undecodable %s: %v", field, err)
			b.client.HDel(ctx, b.bufferKey(), field)
			b.client.SRem(ctx, b.pendingKey(), field)
			delete(originalData, field)
			continue
		}
		docs = append(docs, &doc)
	}

	if len(docs) == 0 {
		return 0, nil
	}

	if err := b.flushFunc(ctx, docs); err != nil {
		log.Printf("[RedisDocumentBuffer] Flush error: %v", err)
		return 0, err
	}

	pipe := b.client.Pipeline()
	for field, raw := range originalData {
		deleteIfUnchangedScript.Run(ctx, pipe, []string{b.bufferKey(), b.pendingKey()}, field, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[RedisDocumentBuffer] Error clearing Redis: %v", err)
	}

	log.Printf("[RedisDocumentBuffer] Flushed %d documents", len(docs))
	return len(docs), nil
}

// Flush drains the buffer.
func (b *RedisDocumentBuffer) Flush(ctx context.Context) error {
	for {
		flushed, err := b.FlushBatch(ctx)
		if err != nil {
			return err
		}
		if flushed == 0 {
			return nil
		}
	}
}

// PruneOrphans removes pending markers whose document is gone.
func (b *RedisDocumentBuffer) PruneOrphans(ctx context.Context) (int, error) {
	fields, err := b.client.SMembers(ctx, b.pendingKey()).Result()
	if err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, nil
	}

	exists := make([]*redis.BoolCmd, len(fields))
	pipe := b.client.Pipeline()
	for i, field := range fields {
		exists[i] = pipe.HExists(ctx, b.bufferKey(), field)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	pruned := 0
	pipe = b.client.Pipeline()
	for i, field := range fields {
		if !exists[i].Val() {
			pipe.SRem(ctx, b.pendingKey(), field)
			pruned++
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[RedisDocumentBuffer] Prune exec error: %v", err)
		return 0, err
	}
	log.Printf("[RedisDocumentBuffer] Pruned %d orphaned markers", pruned)
	return pruned, nil
}

func (b *RedisDocumentBuffer) backgroundFlush() {
	defer b.done.Done()
	for {
		select {
		case <-b.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
			if _, err := b.FlushBatch(ctx); err != nil {
				log.Printf("[RedisDocumentBuffer] Background flush error: %v", err)
			}
			cancel()
		case <-b.stop:
			log.Printf("[RedisDocumentBuffer] Shutdown: flushing remaining documents...")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := b.Flush(ctx); err != nil {
				log.Printf("[RedisDocumentBuffer] Shutdown flush error: %v", err)
			}
			cancel()
			log.Printf("[RedisDocumentBuffer] Shutdown flush complete")
			return
		}
	}
}

func (b *RedisDocumentBuffer) backgroundPrune() {
	defer b.done.Done()
	for {
		select {
		case <-b.pruneTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			b.PruneOrphans(ctx)
			cancel()
		case <-b.stop:
			return
		}
	}
}

// Close stops the buffer after a final flush.
func (b *RedisDocumentBuffer) Close() error {
	b.stopOnce.Do(func() {
		b.flushTicker.Stop()
		b.pruneTicker.Stop()
		close(b.stop)
	})
	b.done.Wait()
	return b.client.Close()
}
