package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRecord is the durable part of an enrollment session: the nonce
// protecting the workflow endpoints and the retry bookkeeping. Drafts and
// verification results never leave process memory.
type SessionRecord struct {
	Nonce     string    `json:"nonce"`
	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"created_at"`
}

// Should be safe to use in concurrency
type SessionStore interface {
	// Store the record for the given session id. Should not return an
	// error when the record already exists, it should just update then.
	StoreSession(sessionId string, record SessionRecord) error

	// Should retrieve the record for the given session id and return an
	// error in any case where it fails to do so.
	RetrieveSession(sessionId string) (SessionRecord, error)

	// Should remove the record and return an error if it fails to do so.
	// The record not being there should also be considered an error.
	RemoveSession(sessionId string) error
}

// ------------------------------------------------------------------------------

func createKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:enrollment:%s", namespace, sessionId)
}

const SessionTimeout time.Duration = 24 * time.Hour

type RedisSessionStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisSessionStore(client *redis.Client, namespace string) *RedisSessionStore {
	return &RedisSessionStore{client: client, namespace: namespace}
}

func (s *RedisSessionStore) StoreSession(sessionId string, record SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, sessionId), payload, SessionTimeout).Err()
}

func (s *RedisSessionStore) RetrieveSession(sessionId string) (SessionRecord, error) {
	ctx := context.Background()
	payload, err := s.client.Get(ctx, createKey(s.namespace, sessionId)).Result()
	if err != nil {
		return SessionRecord{}, err
	}
	var record SessionRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return SessionRecord{}, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return record, nil
}

func (s *RedisSessionStore) RemoveSession(sessionId string) error {
	ctx := context.Background()
	return s.client.Del(ctx, createKey(s.namespace, sessionId)).Err()
}

// ------------------------------------------------------------------------------

type InMemorySessionStore struct {
	Records map[string]SessionRecord
	mutex   sync.Mutex
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		Records: make(map[string]SessionRecord),
	}
}

func (s *InMemorySessionStore) StoreSession(sessionId string, record SessionRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Records[sessionId] = record
	return nil
}

func (s *InMemorySessionStore) RetrieveSession(sessionId string) (SessionRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if record, ok := s.Records[sessionId]; ok {
		return record, nil
	}
	return SessionRecord{}, fmt.Errorf("failed to find session record for %s", sessionId)
}

func (s *InMemorySessionStore) RemoveSession(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.Records[sessionId]; ok {
		delete(s.Records, sessionId)
		return nil
	}
	return fmt.Errorf("failed to remove session record for %s, because it wasn't there", sessionId)
}
