package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisStore keeps settings under one key and announces every save on a
// pub/sub channel so all running instances converge on the last write.
type RedisStore struct {
	client   redis.UniversalClient
	key      string
	channel  string
	instance string
	logger   *zap.Logger
	n        *notifier
}

// envelope is the pub/sub payload; Source lets an instance skip its own echo.
type envelope struct {
	Source   string   `json:"source"`
	Settings Settings `json:"settings"`
}

func NewRedisStore(client redis.UniversalClient, key string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:   client,
		key:      key,
		channel:  key + ":changed",
		instance: uuid.NewString(),
		logger:   logger,
		n:        newNotifier(),
	}
}

func (r *RedisStore) Load(ctx context.Context) (Settings, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return decodeSettings(data)
}

func (r *RedisStore) Save(ctx context.Context, s Settings) error {
	s = s.Normalize()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}

	msg, err := encodeEnvelope(r.instance, s)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		// The value is stored; other instances catch up on their next load.
		r.logger.Warn("settings change not announced", zap.Error(err))
	}
	r.n.notify(s)
	return nil
}

func (r *RedisStore) Subscribe(fn func(Settings)) func() {
	return r.n.subscribe(fn)
}

// Watch relays changes published by other instances until ctx is done.
func (r *RedisStore) Watch(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed settings announcement", zap.Error(err))
				continue
			}
			if env.Source == r.instance {
				continue
			}
			r.n.notify(env.Settings)
		}
	}
}

func encodeEnvelope(source string, s Settings) ([]byte, error) {
	data, err := json.Marshal(envelope{Source: source, Settings: s.Normalize()})
	if err != nil {
		return nil, fmt.Errorf("encode settings announcement: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	env := envelope{Settings: Default()}
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode settings announcement: %w", err)
	}
	env.Settings = env.Settings.Normalize()
	return env, nil
}

func decodeSettings(data []byte) (Settings, error) {
	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s.Normalize(), nil
}
