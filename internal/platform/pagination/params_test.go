package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		got, err := Parse(httptest.NewRequest("GET", "/v1/orders", nil))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if got.PageSize != DefaultPageSize || got.PageToken != "" {
			t.Fatalf("unexpected defaults %#v", got)
		}
	})

	t.Run("clamps page size", func(t *testing.T) {
		got, err := Parse(httptest.NewRequest("GET", "/v1/orders?page_size=5000", nil))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if got.PageSize != DefaultMaxPageSize {
			t.Fatalf("expected clamp to %d got %d", DefaultMaxPageSize, got.PageSize)
		}
	})

	t.Run("rejects bad size", func(t *testing.T) {
		_, err := Parse(httptest.NewRequest("GET", "/v1/orders?page_size=-1", nil))
		if !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize got %v", err)
		}
	})

	t.Run("rejects bad token", func(t *testing.T) {
		_, err := Parse(httptest.NewRequest("GET", "/v1/orders?page_token=%25%25", nil))
		if !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("expected ErrInvalidPageToken got %v", err)
		}
	})
}

func TestTokenRoundTripAndOrdering(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: at, ID: "ord_b"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !cursor.CreatedAt.Equal(at) || cursor.ID != "ord_b" {
		t.Fatalf("unexpected cursor %#v", cursor)
	}

	if !cursor.After(at, "ord_a") {
		t.Fatalf("same timestamp with smaller id should follow the cursor")
	}
	if cursor.After(at, "ord_c") {
		t.Fatalf("same timestamp with larger id should precede the cursor")
	}
	if !cursor.After(at.Add(-time.Second), "ord_z") {
		t.Fatalf("older items should follow the cursor")
	}
	if empty, _ := EncodeToken(Cursor{}); empty != "" {
		t.Fatalf("zero cursor should encode to empty token")
	}
}
