//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/platform/firestore/firestoretest"
)

type counterDoc struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestBaseRepositoryJoinsContextTransaction(t *testing.T) {
	provider := firestoretest.NewProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[counterDoc](provider, "counters", nil)
	if err := repo.Set(ctx, "c1", counterDoc{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Name != "alpha" || doc.Data.Count != 1 || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document: %#v", doc)
	}

	if err := repo.Update(ctx, "c1", []firestore.Update{{Path: "count", Value: 2}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	err = provider.RunTransaction(ctx, func(txCtx context.Context) error {
		current, err := repo.Get(txCtx, "c1")
		if err != nil {
			return err
		}
		current.Data.Count++
		return repo.Set(txCtx, "c1", current.Data)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	doc, _ = repo.Get(ctx, "c1")
	if doc.Data.Count != 3 {
		t.Fatalf("expected count=3 after txn, got %d", doc.Data.Count)
	}

	sentinel := errors.New("abort")
	err = provider.RunTransaction(ctx, func(txCtx context.Context) error {
		if err := repo.Set(txCtx, "c1", counterDoc{Name: "rolled back", Count: 99}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	doc, _ = repo.Get(ctx, "c1")
	if doc.Data.Count != 3 {
		t.Fatalf("rolled back write leaked: %#v", doc.Data)
	}

	if err := repo.Create(ctx, "c1", counterDoc{}); err == nil {
		t.Fatalf("expected create on existing id to fail")
	}

	_, err = repo.Get(ctx, "missing")
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}
	exists, err := repo.Exists(ctx, "missing")
	if err != nil || exists {
		t.Fatalf("expected missing document, got exists=%v err=%v", exists, err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func TestProviderReadinessCheckAcceptsEmptyCollection(t *testing.T) {
	provider := firestoretest.NewProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.ReadinessCheck("products")(ctx); err != nil {
		t.Fatalf("readiness check of empty collection: %v", err)
	}
	repo := pfirestore.NewBaseRepository[counterDoc](provider, "products", nil)
	if err := repo.Set(ctx, "p1", counterDoc{Name: "stamp"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := provider.ReadinessCheck("products")(ctx); err != nil {
		t.Fatalf("readiness check of populated collection: %v", err)
	}
}
