package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"nrich-session-guard/internal/platform/logging"
)

// setScript bumps the path version, stores the value and announces
// "version|path|value" on the change channel in one step.
var setScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PUBLISH', ARGV[2], v .. '|' .. ARGV[3] .. '|' .. ARGV[1])
return v
`)

// RedisTreeOptions configures NewRedisTree.
type RedisTreeOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

type redisTree struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	prefix  string
	channel string
	logger  logging.Leveled

	mu       sync.Mutex
	watchers map[string]map[uint64]func([]byte)
	seen     map[string]int64
	nextID   uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisTree stores values in redis and fans writes out over pub/sub so
// several edge instances share one tree.
func NewRedisTree(ctx context.Context, opts RedisTreeOptions, logger logging.Leveled) (Tree, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "presence:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	t := &redisTree{
		client:   client,
		prefix:   prefix,
		channel:  prefix + "changes",
		logger:   logging.OrNop(logger),
		watchers: make(map[string]map[uint64]func([]byte)),
		seen:     make(map[string]int64),
		done:     make(chan struct{}),
	}

	t.pubsub = client.Subscribe(ctx, t.channel)
	if _, err := t.pubsub.Receive(ctx); err != nil {
		_ = t.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	go t.dispatch()
	return t, nil
}

func (t *redisTree) valueKey(path string) string   { return t.prefix + "v:" + path }
func (t *redisTree) versionKey(path string) string { return t.prefix + "n:" + path }

func (t *redisTree) Get(ctx context.Context, path string) ([]byte, error) {
	v, err := t.client.Get(ctx, t.valueKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return v, err
}

func (t *redisTree) Set(ctx context.Context, path string, value []byte) error {
	return setScript.Run(ctx, t.client,
		[]string{t.valueKey(path), t.versionKey(path)},
		string(value), t.channel, path,
	).Err()
}

func (t *redisTree) Watch(ctx context.Context, path string, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vals, err := t.client.MGet(ctx, t.valueKey(path), t.versionKey(path)).Result()
	if err != nil {
		return nil, err
	}
	var current []byte
	if s, ok := vals[0].(string); ok {
		current = []byte(s)
	}
	if s, ok := vals[1].(string); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > t.seen[path] {
			t.seen[path] = n
		}
	}

	id := t.nextID
	t.nextID++
	if t.watchers[path] == nil {
		t.watchers[path] = make(map[uint64]func([]byte))
	}
	t.watchers[path][id] = fn
	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers[path], id)
			if len(t.watchers[path]) == 0 {
				delete(t.watchers, path)
			}
			t.mu.Unlock()
		})
	}, nil
}

func (t *redisTree) dispatch() {
	defer close(t.done)
	for msg := range t.pubsub.Channel() {
		parts := strings.SplitN(msg.Payload, "|", 3)
		if len(parts) != 3 {
			t.logger.Warn("malformed presence change: %q", msg.Payload)
			continue
		}
		version, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		path, value := parts[1], []byte(parts[2])

		t.mu.Lock()
		// a watcher registered after this write already saw it via MGET
		if version > t.seen[path] {
			t.seen[path] = version
			for _, fn := range t.watchers[path] {
				fn(clone(value))
			}
		}
		t.mu.Unlock()
	}
}

func (t *redisTree) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.pubsub.Close()
		<-t.done
		if cerr := t.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
