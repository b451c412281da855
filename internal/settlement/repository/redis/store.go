package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/settlement/domain"
)

const (
	keyPrefix  = "orderbridge:settlement:"
	pendingKey = "orderbridge:settlement-claims"
)

// KEYS[1] record hash, KEYS[2] pending zset.
// ARGV[1] cutoff ms, ARGV[2] token, ARGV[3] claimed_at ms, ARGV[4..] fields.
const claimScript = `
local outcome = redis.call("HGET", KEYS[1], "outcome")
if not outcome then
  redis.call("HSET", KEYS[1], unpack(ARGV, 4))
  redis.call("ZADD", KEYS[2], ARGV[3], KEYS[1])
  return "acquired"
end
if outcome == "settled" then
  return "settled"
end
local claimed = tonumber(redis.call("HGET", KEYS[1], "claimed_at") or "0")
if claimed > tonumber(ARGV[1]) then
  return "busy"
end
redis.call("HSET", KEYS[1], "claim_token", ARGV[2], "claimed_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], KEYS[1])
return "taken_over"
`

// ARGV[1] token, ARGV[2..] fields.
const finalizeScript = `
if redis.call("HGET", KEYS[1], "outcome") ~= "in_progress" then
  return 0
end
if redis.call("HGET", KEYS[1], "claim_token") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("ZREM", KEYS[2], KEYS[1])
return 1
`

const releaseScript = `
if redis.call("HGET", KEYS[1], "outcome") ~= "in_progress" then
  return 0
end
if redis.call("HGET", KEYS[1], "claim_token") ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], KEYS[1])
return 1
`

// ARGV[1] delta. Returns the new total, -1 when the record is not settled and
// -2 when the total would leave [0, amount].
const refundScript = `
if redis.call("HGET", KEYS[1], "outcome") ~= "settled" then
  return -1
end
local amount = tonumber(redis.call("HGET", KEYS[1], "amount") or "0")
local refunded = tonumber(redis.call("HGET", KEYS[1], "refunded_amount") or "0")
local total = refunded + tonumber(ARGV[1])
if total < 0 or total > amount then
  return -2
end
redis.call("HSET", KEYS[1], "refunded_amount", total)
return total
`

// Store keeps each record in a hash and indexes live claims in a sorted set
// scored by claim time. Claim and finalize transitions run as Lua scripts so
// they are atomic per key.
type Store struct {
	client   redis.UniversalClient
	clock    clock.Clock
	claim    *redis.Script
	finalize *redis.Script
	release  *redis.Script
	refund   *redis.Script
}

func New(client redis.UniversalClient, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Store{
		client:   client,
		clock:    clk,
		claim:    redis.NewScript(claimScript),
		finalize: redis.NewScript(finalizeScript),
		release:  redis.NewScript(releaseScript),
		refund:   redis.NewScript(refundScript),
	}
}

func recordKey(transactionID string) string {
	return keyPrefix + transactionID
}

func (s *Store) Get(ctx context.Context, transactionID string) (domain.Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(transactionID)).Result()
	if err != nil {
		return domain.Record{}, false, err
	}
	if len(fields) == 0 {
		return domain.Record{}, false, nil
	}
	rec, err := decode(transactionID, fields)
	if err != nil {
		return domain.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Claim(ctx context.Context, rec domain.Record, ttl time.Duration) (domain.Claim, error) {
	rec, err := domain.Normalize(rec)
	if err != nil {
		return domain.Claim{}, err
	}
	now := s.clock.Now()
	rec.Outcome = domain.OutcomeInProgress
	rec.ClaimToken = uuid.NewString()
	rec.ClaimedAt = now
	rec.SettledAt = nil

	fields, err := encode(rec)
	if err != nil {
		return domain.Claim{}, err
	}
	args := []any{
		now.Add(-ttl).UnixMilli(),
		rec.ClaimToken,
		now.UnixMilli(),
	}
	args = append(args, fields...)

	key := recordKey(rec.TransactionID)
	result, err := s.claim.Run(ctx, s.client, []string{key, pendingKey}, args...).Text()
	if err != nil {
		return domain.Claim{}, err
	}

	switch result {
	case "acquired":
		return domain.Claim{Status: domain.ClaimAcquired, Record: rec}, nil
	case "taken_over":
		stored, _, err := s.Get(ctx, rec.TransactionID)
		if err != nil {
			return domain.Claim{}, err
		}
		return domain.Claim{Status: domain.ClaimAcquired, Record: stored}, nil
	}

	stored, ok, err := s.Get(ctx, rec.TransactionID)
	if err != nil {
		return domain.Claim{}, err
	}
	if !ok {
		return domain.Claim{Status: domain.ClaimBusy, Record: rec}, nil
	}
	if result == "settled" {
		return domain.Claim{Status: domain.ClaimSettled, Record: stored}, nil
	}
	return domain.Claim{Status: domain.ClaimBusy, Record: stored}, nil
}

func (s *Store) Finalize(ctx context.Context, rec domain.Record) (domain.Record, error) {
	rec, err := domain.Normalize(rec)
	if err != nil {
		return domain.Record{}, err
	}
	settledAt := s.clock.Now()
	rec.Outcome = domain.OutcomeSettled
	rec.SettledAt = &settledAt

	fields, err := encode(rec)
	if err != nil {
		return domain.Record{}, err
	}
	// claimed_at belongs to the claim, not to the caller's copy.
	fields = dropField(fields, "claimed_at")

	args := append([]any{rec.ClaimToken}, fields...)
	updated, err := s.finalize.Run(ctx, s.client, []string{recordKey(rec.TransactionID), pendingKey}, args...).Int()
	if err != nil {
		return domain.Record{}, err
	}
	if updated == 0 {
		return domain.Record{}, domain.ErrClaimLost
	}
	stored, ok, err := s.Get(ctx, rec.TransactionID)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, domain.ErrClaimLost
	}
	return stored, nil
}

func (s *Store) Release(ctx context.Context, transactionID, token string) error {
	return s.release.Run(ctx, s.client, []string{recordKey(transactionID), pendingKey}, token).Err()
}

func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	keys, err := s.client.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Record, 0, len(keys))
	for _, key := range keys {
		id := key[len(keyPrefix):]
		rec, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || rec.Settled() {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// AddRefund keeps the running total in its own hash field so the script can
// update it without decoding the metadata JSON.
func (s *Store) AddRefund(ctx context.Context, transactionID string, delta int64) (domain.Record, error) {
	total, err := s.refund.Run(ctx, s.client, []string{recordKey(transactionID)}, delta).Int64()
	if err != nil {
		return domain.Record{}, err
	}
	switch total {
	case -1:
		return domain.Record{}, domain.ErrNotSettled
	case -2:
		return domain.Record{}, domain.ErrRefundExceeded
	}
	rec, ok, err := s.Get(ctx, transactionID)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, domain.ErrNotSettled
	}
	return rec, nil
}

func encode(rec domain.Record) ([]any, error) {
	fields := []any{
		"invoice_id", rec.InvoiceID,
		"order_id", rec.OrderID,
		"outcome", string(rec.Outcome),
		"amount", rec.Amount,
		"currency", rec.Currency,
		"method", rec.Method,
		"provider", rec.Provider,
		"source", rec.Source,
		"claim_token", rec.ClaimToken,
		"claimed_at", rec.ClaimedAt.UnixMilli(),
	}
	if rec.SettledAt != nil {
		fields = append(fields, "settled_at", rec.SettledAt.UnixMilli())
	}
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, err
		}
		fields = append(fields, "metadata", string(raw))
	}
	return fields, nil
}

func dropField(fields []any, name string) []any {
	out := make([]any, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i] == name {
			continue
		}
		out = append(out, fields[i], fields[i+1])
	}
	return out
}

func decode(transactionID string, fields map[string]string) (domain.Record, error) {
	rec := domain.Record{
		TransactionID: transactionID,
		InvoiceID:     fields["invoice_id"],
		OrderID:       fields["order_id"],
		Outcome:       domain.Outcome(fields["outcome"]),
		Currency:      fields["currency"],
		Method:        fields["method"],
		Provider:      fields["provider"],
		Source:        fields["source"],
		ClaimToken:    fields["claim_token"],
	}
	if raw := fields["amount"]; raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Record{}, errors.New("settlement record has invalid amount")
		}
		rec.Amount = amount
	}
	if raw := fields["claimed_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Record{}, errors.New("settlement record has invalid claimed_at")
		}
		rec.ClaimedAt = time.UnixMilli(ms).UTC()
	}
	if raw := fields["settled_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Record{}, errors.New("settlement record has invalid settled_at")
		}
		settledAt := time.UnixMilli(ms).UTC()
		rec.SettledAt = &settledAt
	}
	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return domain.Record{}, err
		}
	}
	if raw := fields["refunded_amount"]; raw != "" {
		total, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Record{}, errors.New("settlement record has invalid refunded_amount")
		}
		rec = rec.WithRefunded(total)
	}
	return rec, nil
}
