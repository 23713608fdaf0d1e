package pointer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StoreStub is an in-memory Store. It keeps encoded documents so that tests see the same
// decode path as the real stores, and it counts reads and writes.
type StoreStub struct {
	mu      sync.Mutex
	entries map[Key]stubEntry
	// PutErr, when set, is consulted before every Put.
	PutErr         func(p Pointer) error
	putCalls       int
	queryFeedCalls int
}

type stubEntry struct {
	timeKey *time.Time
	version int64
	payload []byte
}

func NewStoreStub() *StoreStub {
	return &StoreStub{entries: make(map[Key]stubEntry)}
}

// PutRaw stores payload under key without validation.
func (s *StoreStub) PutRaw(key Key, timeKey *time.Time, version int64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = stubEntry{timeKey: timeKey, version: version, payload: payload}
}

// Raw returns the stored document bytes.
func (s *StoreStub) Raw(key Key) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.payload, ok
}

func (s *StoreStub) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCalls
}

func (s *StoreStub) QueryFeedCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryFeedCalls
}

func (s *StoreStub) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *StoreStub) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Key]stubEntry)
	s.putCalls = 0
	s.queryFeedCalls = 0
}

func (s *StoreStub) Put(ctx context.Context, p Pointer) error {
	s.mu.Lock()
	s.putCalls++
	putErr := s.PutErr
	s.mu.Unlock()
	if putErr != nil {
		if err := putErr(p); err != nil {
			return err
		}
	}

	payload, err := EncodeDocument(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[p.Key()]; ok && existing.version > p.Version {
		return ErrStaleVersion
	}
	s.entries[p.Key()] = stubEntry{timeKey: p.TimeKey, version: p.Version, payload: payload}
	return nil
}

func (s *StoreStub) Get(ctx context.Context, groupId string, hangoutId string) (Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{GroupId: groupId, HangoutId: hangoutId}
	e, ok := s.entries[key]
	if !ok {
		return Pointer{}, ErrPointerNotFound
	}
	return decodeRow(key, e.payload)
}

func (s *StoreStub) Delete(ctx context.Context, groupId string, hangoutId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, Key{GroupId: groupId, HangoutId: hangoutId})
	return nil
}

func (s *StoreStub) DeleteByHangout(ctx context.Context, hangoutId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.HangoutId == hangoutId {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *StoreStub) ListByHangout(ctx context.Context, hangoutId string, limit int) ([]Pointer, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []row
	for key, e := range s.entries {
		if key.HangoutId == hangoutId {
			rows = append(rows, row{key: key, timeKey: e.timeKey, payload: e.payload})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key.GroupId < rows[j].key.GroupId })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return decodeRows(rows), nil
}

func (s *StoreStub) QueryFeed(ctx context.Context, q FeedQuery) (FeedResult, error) {
	if err := validateFeedQuery(q); err != nil {
		return FeedResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryFeedCalls++

	var scheduled, unscheduled []row
	for key, e := range s.entries {
		if key.GroupId != q.GroupId {
			continue
		}
		r := row{key: key, timeKey: e.timeKey, payload: e.payload}
		if e.timeKey == nil {
			unscheduled = append(unscheduled, r)
			continue
		}
		if e.timeKey.Before(q.From) {
			continue
		}
		if q.After != nil && !positionLess(*q.After, r.position()) {
			continue
		}
		if q.Before != nil && !positionLess(r.position(), *q.Before) {
			continue
		}
		scheduled = append(scheduled, r)
	}

	sort.Slice(scheduled, func(i, j int) bool {
		if q.Before != nil {
			return positionLess(scheduled[j].position(), scheduled[i].position())
		}
		return positionLess(scheduled[i].position(), scheduled[j].position())
	})
	sort.Slice(unscheduled, func(i, j int) bool {
		return unscheduled[i].key.HangoutId < unscheduled[j].key.HangoutId
	})
	if len(scheduled) > q.Limit {
		scheduled = scheduled[:q.Limit]
	}
	if len(unscheduled) > q.UnscheduledLimit {
		unscheduled = unscheduled[:q.UnscheduledLimit]
	}
	return FeedResult{
		Scheduled:     decodeRows(scheduled),
		ScheduledRows: len(scheduled),
		Unscheduled:   decodeRows(unscheduled),
	}, nil
}

func (s *StoreStub) QueryScheduled(ctx context.Context, groupId string, from time.Time, limit int) ([]Pointer, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	result, err := s.QueryFeed(ctx, FeedQuery{GroupId: groupId, From: from, Limit: limit, UnscheduledLimit: 1})
	if err != nil {
		return nil, err
	}
	return result.Scheduled, nil
}

func (s *StoreStub) ListKeys(ctx context.Context, after *Key, limit int) ([]Key, *Key, error) {
	if limit < 1 {
		return nil, nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		if after == nil || keyLess(*after, key) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	if len(keys) <= limit {
		return keys, nil, nil
	}
	keys = keys[:limit]
	next := keys[limit-1]
	return keys, &next, nil
}

func keyLess(a Key, b Key) bool {
	if a.GroupId != b.GroupId {
		return a.GroupId < b.GroupId
	}
	return a.HangoutId < b.HangoutId
}

// ErrStubUnavailable is a convenience error for PutErr hooks.
var ErrStubUnavailable = errors.New("pointer store unavailable")
