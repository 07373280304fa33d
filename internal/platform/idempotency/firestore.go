package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore implements Store on Firestore for deployments that run the firestore store driver
// without redis.
type FirestoreStore struct {
	provider *pfirestore.Provider
	docs     *pfirestore.BaseRepository[firestoreRecord]
	attempts int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(provider *pfirestore.Provider, collection string, attempts int) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	if attempts <= 0 {
		attempts = 5
	}
	return &FirestoreStore{
		provider: provider,
		docs:     pfirestore.NewBaseRepository[firestoreRecord](provider, collection, pfirestore.StructDecoder[firestoreRecord]()),
		attempts: attempts,
	}
}

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	var result Reservation
	err := s.provider.RunTransaction(ctx, func(txCtx context.Context) error {
		existing, found, err := s.load(txCtx, id)
		if err != nil {
			return err
		}
		if found && !existing.expired(now) {
			result, err = existing.reservation(fingerprint)
			return err
		}
		record := pendingRecord(key, fingerprint, now, ttl)
		if err := s.docs.Set(txCtx, id, newFirestoreRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	}, pfirestore.WithTxAttempts(s.attempts))
	return result, err
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	return s.provider.RunTransaction(ctx, func(txCtx context.Context) error {
		record, found, err := s.load(txCtx, id)
		if err != nil {
			return err
		}
		if found && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		}
		return s.docs.Set(txCtx, id, newFirestoreRecord(completeRecord(record, resp, now, ttl)))
	}, pfirestore.WithTxAttempts(s.attempts))
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		if err := s.docs.Delete(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Release removes the reservation to allow callers to retry.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	id := storageKey(key)
	return s.provider.RunTransaction(ctx, func(txCtx context.Context) error {
		record, found, err := s.load(txCtx, id)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		return s.docs.Delete(txCtx, id)
	}, pfirestore.WithTxAttempts(s.attempts))
}

func (s *FirestoreStore) load(ctx context.Context, id string) (Record, bool, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) && fsErr.IsNotFound() {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return doc.Data.toRecord(), true, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func newFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
