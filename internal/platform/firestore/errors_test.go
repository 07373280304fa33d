package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("op", status.Error(tc.code, "boom"))
			var repoErr *Error
			if !errors.As(err, &repoErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, repoErr)
			}
			if !IsCode(err, tc.code) {
				t.Fatalf("expected IsCode(%s)", tc.code)
			}
		})
	}
}

func TestWrapErrorPassesThroughForeignErrors(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	plain := errors.New("domain failure")
	if got := WrapError("op", plain); got != plain {
		t.Fatalf("expected passthrough, got %v", got)
	}
	if got := WrapError("op", status.Error(codes.Canceled, "stop")); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got)
	}
	if got := WrapError("op", fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("expected deadline passthrough, got %v", got)
	}
}

func TestTransactionFromEmptyContext(t *testing.T) {
	if _, ok := TransactionFrom(context.Background()); ok {
		t.Fatalf("background context must not carry a transaction")
	}
	called := false
	err := RunTransaction(context.Background(), nil, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected nil client to be rejected before fn runs")
	}
}
