package mfa

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/replace_active.lua
	luaReplaceActive string
	//go:embed lua/update_challenge.lua
	luaUpdateChallenge string
	//go:embed lua/delete_subject.lua
	luaDeleteSubject string
	//go:embed lua/mark_nonce.lua
	luaMarkNonce string
	//go:embed lua/consume_nonce.lua
	luaConsumeNonce string
	//go:embed lua/consume_passcode.lua
	luaConsumePasscode string
)

var (
	replaceActiveScript   = redis.NewScript(luaReplaceActive)
	updateChallengeScript = redis.NewScript(luaUpdateChallenge)
	deleteSubjectScript   = redis.NewScript(luaDeleteSubject)
	markNonceScript       = redis.NewScript(luaMarkNonce)
	consumeNonceScript    = redis.NewScript(luaConsumeNonce)
	consumePasscodeScript = redis.NewScript(luaConsumePasscode)
)

// RedisRepository implements Repository on Redis. Every record carries a key
// TTL matching its expiry, so the DeleteExpired* methods have nothing to do.
//
// The Lua scripts derive the challenge key from the subject index, so the
// repository expects a single node or a single hash slot per prefix.
type RedisRepository struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisRepository(client redis.Cmdable, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "mfa:"
	}
	return &RedisRepository{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (r *RedisRepository) challengePrefix() string {
	return r.prefix + "challenge:"
}

func (r *RedisRepository) challengeKey(token string) string {
	return r.challengePrefix() + token
}

func (r *RedisRepository) subjectKey(subjectID string) string {
	return r.prefix + "subject:" + subjectID
}

func (r *RedisRepository) nonceKey(subjectID, wallet string) string {
	return fmt.Sprintf("%snonce:%s:%s", r.prefix, subjectID, NormalizeWallet(wallet))
}

func (r *RedisRepository) passcodeKey(subjectID string, method MethodID) string {
	return fmt.Sprintf("%scode:%s:%s", r.prefix, subjectID, method)
}

func (r *RedisRepository) ttl(expiresAt time.Time) int64 {
	ms := expiresAt.Sub(r.now()).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

func parseUnixMilli(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *RedisRepository) ReplaceActive(ctx context.Context, ch *Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	err = replaceActiveScript.Run(ctx, r.client,
		[]string{r.subjectKey(ch.SubjectID), r.challengeKey(ch.Token)},
		r.challengePrefix(), ch.Token, data, ch.Version, r.ttl(ch.ExpiresAt),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to replace challenge: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetByToken(ctx context.Context, token string) (*Challenge, error) {
	fields, err := r.client.HMGet(ctx, r.challengeKey(token), "data", "version").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	data, ok := fields[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	if v, ok := fields[1].(string); ok {
		if ch.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("failed to decode challenge version: %w", err)
		}
	}
	return &ch, nil
}

func (r *RedisRepository) GetBySubject(ctx context.Context, subjectID string) (*Challenge, error) {
	token, err := r.client.Get(ctx, r.subjectKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subject challenge: %w", err)
	}
	return r.GetByToken(ctx, token)
}

func (r *RedisRepository) Update(ctx context.Context, ch *Challenge) error {
	next := ch.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	res, err := updateChallengeScript.Run(ctx, r.client,
		[]string{r.challengeKey(ch.Token)},
		strconv.FormatInt(ch.Version, 10), data, next.Version,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrVersionConflict
	}
	ch.Version = next.Version
	return nil
}

func (r *RedisRepository) DeleteBySubject(ctx context.Context, subjectID string) error {
	err := deleteSubjectScript.Run(ctx, r.client, []string{r.subjectKey(subjectID)}, r.challengePrefix()).Err()
	if err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (r *RedisRepository) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (r *RedisRepository) PutNonce(ctx context.Context, n Nonce) error {
	key := r.nonceKey(n.SubjectID, n.Wallet)
	validated := "0"
	if n.Validated {
		validated = "1"
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"value", n.Value,
			"validated", validated,
			"expires_ms", n.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, time.Duration(r.ttl(n.ExpiresAt))*time.Millisecond)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put nonce: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetNonce(ctx context.Context, subjectID, wallet string) (*Nonce, error) {
	fields, err := r.client.HGetAll(ctx, r.nonceKey(subjectID, wallet)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	expiresAt, err := parseUnixMilli(fields["expires_ms"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce expiry: %w", err)
	}
	if r.now().After(expiresAt) {
		return nil, ErrNotFound
	}
	return &Nonce{
		SubjectID: subjectID,
		Wallet:    NormalizeWallet(wallet),
		Value:     fields["value"],
		Validated: fields["validated"] == "1",
		ExpiresAt: expiresAt,
	}, nil
}

func (r *RedisRepository) MarkNonceValidated(ctx context.Context, subjectID, wallet, value string) error {
	res, err := markNonceScript.Run(ctx, r.client, []string{r.nonceKey(subjectID, wallet)}, value, r.now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to mark nonce validated: %w", err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRepository) ConsumeNonce(ctx context.Context, subjectID, wallet, value string) (bool, error) {
	res, err := consumeNonceScript.Run(ctx, r.client, []string{r.nonceKey(subjectID, wallet)}, value, r.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return res == 1, nil
}

func (r *RedisRepository) DeleteExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (r *RedisRepository) PutPasscode(ctx context.Context, p Passcode) error {
	key := r.passcodeKey(p.SubjectID, p.Method)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"value", p.Value,
			"expires_ms", p.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, time.Duration(r.ttl(p.ExpiresAt))*time.Millisecond)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put passcode: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetPasscode(ctx context.Context, subjectID string, method MethodID) (*Passcode, error) {
	fields, err := r.client.HGetAll(ctx, r.passcodeKey(subjectID, method)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get passcode: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	expiresAt, err := parseUnixMilli(fields["expires_ms"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode passcode expiry: %w", err)
	}
	if r.now().After(expiresAt) {
		return nil, ErrNotFound
	}
	return &Passcode{
		SubjectID: subjectID,
		Method:    method,
		Value:     fields["value"],
		ExpiresAt: expiresAt,
	}, nil
}

func (r *RedisRepository) ConsumePasscode(ctx context.Context, subjectID string, method MethodID, value string) (bool, error) {
	res, err := consumePasscodeScript.Run(ctx, r.client, []string{r.passcodeKey(subjectID, method)}, value, r.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume passcode: %w", err)
	}
	return res == 1, nil
}

func (r *RedisRepository) DeleteExpiredPasscodes(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
