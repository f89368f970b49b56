package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pillars-watch/internal/logger"
)

const (
	defaultTTL   = 2 * time.Minute
	retryBackoff = 100 * time.Millisecond
)

// Снимаем блокировку, только если она всё ещё наша
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Продлеваем блокировку, только если она всё ещё наша
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker - блокировки между процессами (несколько экземпляров сервиса на одной БД).
// Пока блокировка удерживается, её TTL продлевается каждые ttl/3.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisLocker(url string, log *logger.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("неверный REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}

	return newRedisLocker(client, defaultTTL, log), nil
}

func newRedisLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: "pillars-watch:lock:", ttl: ttl, log: log}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	full := l.prefix + key

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка блокировки %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, full, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// Контекст вызывающего мог уже истечь, а блокировку всё равно нужно снять
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(releaseCtx, l.client, []string{full}, token).Int()
			switch {
			case err != nil:
				l.log.Warn("⚠️ Не удалось снять блокировку", "key", key, "err", err)
			case n == 0:
				l.log.Warn("⚠️ Блокировка истекла или перехвачена до снятия", "key", key)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, full, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := refreshScript.Run(ctx, l.client, []string{full}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.log.Warn("⚠️ Не удалось продлить блокировку", "key", key, "err", err)
			continue
		}
		if n == 0 {
			l.log.Error("❌ Блокировка потеряна", "key", key)
			return
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
