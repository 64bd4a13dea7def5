// Package redis stores login sessions in Redis. Each session is a JSON value
// whose key expires with the session; a per-user set and a global expiry
// index let sessions be listed and swept without scanning the keyspace.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/internal/app/storage"
)

const defaultPrefix = "bookly"

// SessionStore implements storage.SessionStore on a Redis client.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.SessionStore = (*SessionStore)(nil)

// NewSessionStore wraps client. An empty prefix defaults to "bookly".
func NewSessionStore(client redis.UniversalClient, prefix string) *SessionStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) sessionKey(id string) string { return s.prefix + ":session:" + id }

func (s *SessionStore) userKey(userID string) string { return s.prefix + ":user-sessions:" + userID }

func (s *SessionStore) expiryKey() string { return s.prefix + ":session-expiry" }

func indexMember(userID, id string) string { return userID + "|" + id }

func splitMember(member string) (userID, id string, ok bool) {
	userID, id, ok = strings.Cut(member, "|")
	return userID, id, ok && id != ""
}

func (s *SessionStore) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if strings.TrimSpace(sess.UserID) == "" {
		return session.Session{}, errors.New("user_id required")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.ExpiresAt.IsZero() || !sess.ExpiresAt.After(now) {
		return session.Session{}, errors.New("expires_at must be in the future")
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return session.Session{}, err
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), raw, sess.ExpiresAt.Sub(now)).Result()
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		return session.Session{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrConflict)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		p.ZAdd(ctx, s.expiryKey(), &redis.Z{
			Score:  float64(sess.ExpiresAt.Unix()),
			Member: indexMember(sess.UserID, sess.ID),
		})
		return nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("index session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (session.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return session.Session{}, err
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	var ids []string
	if userID != "" {
		members, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
		if err != nil {
			return nil, err
		}
		ids = members
	} else {
		members, err := s.client.ZRange(ctx, s.expiryKey(), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if _, id, ok := splitMember(m); ok {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return []session.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]session.Session, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			continue
		}
		result = append(result, sess)
	}
	sortByCreated(result)
	return result, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(id))
		p.SRem(ctx, s.userKey(sess.UserID), id)
		p.ZRem(ctx, s.expiryKey(), indexMember(sess.UserID, id))
		return nil
	})
	return err
}

// DeleteExpiredSessions drops index entries whose expiry has passed. The
// session values themselves are already gone through key expiry.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	members, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range members {
			userID, id, ok := splitMember(m)
			if !ok {
				continue
			}
			p.Del(ctx, s.sessionKey(id))
			p.SRem(ctx, s.userKey(userID), id)
		}
		p.ZRemRangeByScore(ctx, s.expiryKey(), "-inf", max)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func sortByCreated(list []session.Session) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}
