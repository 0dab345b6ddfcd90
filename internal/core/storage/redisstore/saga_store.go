// Package redisstore stores saga records in Redis for deployments that keep the
// event log in Postgres but want saga state on a low-latency shared cache.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"github.com/redis/go-redis/v9"
)

// saveSagaScript writes the record and moves its id into the new state set.
// KEYS[1] = saga hash key
// KEYS[2] = new state set
// KEYS[3..] = every other state set
// ARGV[1] = record JSON
// ARGV[2] = new state
// ARGV[3] = saga id
// ARGV[4] = ttl seconds, 0 keeps the key forever
var saveSagaScript = redis.NewScript(`
for i = 3, #KEYS do
    redis.call("SREM", KEYS[i], ARGV[3])
end
redis.call("HSET", KEYS[1], "state", ARGV[2], "record", ARGV[1])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
else
    redis.call("PERSIST", KEYS[1])
end
return 1
`)

// deleteSagaScript removes the record and its state index entry.
// KEYS[1] = saga hash key
// KEYS[2..] = every state set
// ARGV[1] = saga id
var deleteSagaScript = redis.NewScript(`
for i = 2, #KEYS do
    redis.call("SREM", KEYS[i], ARGV[1])
end
redis.call("DEL", KEYS[1])
return 1
`)

var sagaStates = []v1.SagaStatus{
	v1.SagaStarted,
	v1.SagaProcessing,
	v1.SagaCompleted,
	v1.SagaCompensating,
	v1.SagaCompensated,
	v1.SagaFailed,
}

// keyTag is a Redis Cluster hash tag: every key a script touches lands in
// the same slot.
const keyTag = "{sagas}"

// SagaStore implements storage.SagaRepository on Redis.
type SagaStore struct {
	client      *redis.Client
	prefix      string
	terminalTTL time.Duration
}

var _ storage.SagaRepository = (*SagaStore)(nil)

// NewClient opens a go-redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewSagaStore keys records under prefix. COMPLETED and COMPENSATED records
// expire after terminalTTL when it is positive. FAILED records are kept for retry.
func NewSagaStore(client *redis.Client, prefix string, terminalTTL time.Duration) *SagaStore {
	return &SagaStore{client: client, prefix: prefix, terminalTTL: terminalTTL}
}

func (s *SagaStore) sagaKey(id string) string { return s.prefix + keyTag + ":saga:" + id }

func (s *SagaStore) stateKey(state v1.SagaStatus) string {
	return s.prefix + keyTag + ":state:" + string(state)
}

// saveKeys lists the hash key, the set for state, then every other state set.
func (s *SagaStore) saveKeys(id string, state v1.SagaStatus) []string {
	keys := []string{s.sagaKey(id), s.stateKey(state)}
	for _, other := range sagaStates {
		if other != state {
			keys = append(keys, s.stateKey(other))
		}
	}
	return keys
}

func (s *SagaStore) deleteKeys(id string) []string {
	keys := []string{s.sagaKey(id)}
	for _, state := range sagaStates {
		keys = append(keys, s.stateKey(state))
	}
	return keys
}

func (s *SagaStore) Save(ctx context.Context, record v1.SagaRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal saga %s: %w", record.ID, err)
	}

	var ttl int64
	if expires(record.State) && s.terminalTTL > 0 {
		ttl = int64(s.terminalTTL / time.Second)
		if ttl == 0 {
			ttl = 1
		}
	}

	err = saveSagaScript.Run(ctx, s.client,
		s.saveKeys(record.ID, record.State),
		data, string(record.State), record.ID, ttl,
	).Err()
	if err != nil {
		return fmt.Errorf("redis save saga %s: %w", record.ID, err)
	}
	return nil
}

func (s *SagaStore) Load(ctx context.Context, id string) (*v1.SagaRecord, error) {
	raw, err := s.client.HGet(ctx, s.sagaKey(id), "record").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load saga %s: %w", id, err)
	}
	return decodeRecord(raw)
}

func (s *SagaStore) Delete(ctx context.Context, id string) error {
	err := deleteSagaScript.Run(ctx, s.client, s.deleteKeys(id), id).Err()
	if err != nil {
		return fmt.Errorf("redis delete saga %s: %w", id, err)
	}
	return nil
}

// FindByState returns matching records oldest first. Index entries whose
// record has expired are pruned.
func (s *SagaStore) FindByState(ctx context.Context, state v1.SagaStatus) ([]*v1.SagaRecord, error) {
	setKey := s.stateKey(state)
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sagas in %s: %w", state, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.sagaKey(id), "record")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis load sagas in %s: %w", state, err)
	}

	var (
		records []*v1.SagaRecord
		stale   []interface{}
	)
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis load saga %s: %w", ids[i], err)
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, setKey, stale...)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func expires(state v1.SagaStatus) bool {
	return state == v1.SagaCompleted || state == v1.SagaCompensated
}

func decodeRecord(raw []byte) (*v1.SagaRecord, error) {
	var record v1.SagaRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga record: %w", err)
	}
	return &record, nil
}
