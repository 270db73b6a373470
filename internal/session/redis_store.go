package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSessionTTL  = 30 * 24 * time.Hour
	defaultLockTTL     = 2 * time.Minute
	defaultLockWait    = 5 * time.Second
	defaultLockPoll    = 25 * time.Millisecond
	lockReleaseTimeout = 2 * time.Second
	sessionKeyPrefix   = "leadbot:session:"
	sessionLockPrefix  = "leadbot:lock:session:"
)

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the lock expiry forward while our token holds it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// fencedSetScript writes the session only while the caller still owns the lock.
// KEYS: lock, session. ARGV: token, payload, ttl ms.
var fencedSetScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// fencedDelScript deletes the session only while the caller still owns the lock.
var fencedDelScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[2])
return 1
`)

type lockCtxKey struct{}

// heldLock is attached to the context handed to a WithLock callback.
type heldLock struct {
	key   string
	token string
}

func heldLockFor(ctx context.Context, recipientID string) (heldLock, bool) {
	h, ok := ctx.Value(lockCtxKey{}).(heldLock)
	if !ok || h.key != lockKey(recipientID) {
		return heldLock{}, false
	}
	return h, true
}

// RedisStore keeps sessions as JSON values with a SET NX lock per recipient.
type RedisStore struct {
	client     *redis.Client
	tracer     trace.Tracer
	ttl        time.Duration
	lockTTL    time.Duration
	lockWait   time.Duration
	lockPoll   time.Duration
	renewEvery time.Duration // zero means lockTTL/3
	now        func() time.Time
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithSessionTTL sets how long an idle session is retained.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLockTTL bounds how long a crashed holder can keep a recipient locked.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithLockWait sets how long WithLock waits for a busy recipient.
func WithLockWait(wait time.Duration) RedisOption {
	return func(s *RedisStore) {
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// NewRedisStore builds a Redis-backed session store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	s := &RedisStore{
		client:   client,
		tracer:   otel.Tracer("leadbot.internal.session"),
		ttl:      defaultSessionTTL,
		lockTTL:  defaultLockTTL,
		lockWait: defaultLockWait,
		lockPoll: defaultLockPoll,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) WithLock(ctx context.Context, recipientID string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "session.lock", trace.WithAttributes(attribute.String("recipient_id", recipientID)))
	defer span.End()

	key := lockKey(recipientID)
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("session: acquire lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			span.RecordError(ErrLockTimeout)
			return ErrLockTimeout
		}
		timer := time.NewTimer(s.lockPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, s.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			span.RecordError(err)
		}
	}()

	fnCtx, cancel := context.WithCancelCause(context.WithValue(ctx, lockCtxKey{}, heldLock{key: key, token: token}))
	defer cancel(nil)
	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		s.keepAlive(fnCtx, key, token, stop, cancel)
	}()

	err := fn(fnCtx)
	close(stop)
	<-renewed
	if err == nil && errors.Is(context.Cause(fnCtx), ErrLockLost) {
		span.RecordError(ErrLockLost)
		return ErrLockLost
	}
	return err
}

// keepAlive renews the lock every third of its TTL until stop is closed.
// Losing the lock cancels the callback's context with ErrLockLost.
func (s *RedisStore) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	interval := s.renewEvery
	if interval <= 0 {
		interval = s.lockTTL / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := renewScript.Run(ctx, s.client, []string{key}, token, s.lockTTL.Milliseconds()).Int()
		if err != nil {
			// transient; the next tick retries while the key is still alive
			continue
		}
		if n == 0 {
			cancel(ErrLockLost)
			return
		}
	}
}

func (s *RedisStore) Get(ctx context.Context, recipientID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(recipientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) FindOrCreate(ctx context.Context, recipientID string, seed Seed) (*Session, bool, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, false, errors.New("session: recipient id required")
	}
	fresh := New(recipientID, seed, s.now())
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, false, fmt.Errorf("session: encode: %w", err)
	}
	created, err := s.client.SetNX(ctx, sessionKey(recipientID), data, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("session: create: %w", err)
	}
	if created {
		return fresh, true, nil
	}
	existing, err := s.Get(ctx, recipientID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Save is fenced by the recipient lock when called inside WithLock: a holder
// whose lock has expired gets ErrLockLost instead of overwriting.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.RecipientID == "" {
		return errors.New("session: recipient id required")
	}
	sess.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if held, ok := heldLockFor(ctx, sess.RecipientID); ok {
		n, err := fencedSetScript.Run(ctx, s.client, []string{held.key, sessionKey(sess.RecipientID)},
			held.token, data, s.ttl.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("session: save: %w", err)
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}
	if err := s.client.Set(ctx, sessionKey(sess.RecipientID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Delete is fenced by the recipient lock when called inside WithLock.
func (s *RedisStore) Delete(ctx context.Context, recipientID string) error {
	if held, ok := heldLockFor(ctx, recipientID); ok {
		n, err := fencedDelScript.Run(ctx, s.client, []string{held.key, sessionKey(recipientID)}, held.token).Int()
		if err != nil {
			return fmt.Errorf("session: delete: %w", err)
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(recipientID)).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func sessionKey(recipientID string) string {
	return sessionKeyPrefix + recipientID
}

func lockKey(recipientID string) string {
	return sessionLockPrefix + recipientID
}
