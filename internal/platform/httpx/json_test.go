package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Quantity int `json:"quantity"`
	}

	cases := []struct {
		name    string
		payload string
		limit   int64
		wantErr error
		want    int
	}{
		{name: "valid", payload: `{"quantity":3}`, want: 3},
		{name: "empty", payload: "  ", wantErr: ErrEmptyBody},
		{name: "too large", payload: `{"quantity":1234567}`, limit: 8, wantErr: ErrBodyTooLarge},
		{name: "unknown field", payload: `{"qty":3}`},
		{name: "trailing data", payload: `{"quantity":1}{"quantity":2}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.payload))
			var dst body
			err := DecodeJSON(req, tc.limit, &dst)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.want != 0:
				if err != nil || dst.Quantity != tc.want {
					t.Fatalf("expected quantity %d, got %d (%v)", tc.want, dst.Quantity, err)
				}
			default:
				if err == nil {
					t.Fatalf("expected decode error")
				}
			}
		})
	}
}

func TestBodyErrorStatus(t *testing.T) {
	if got := BodyError(ErrBodyTooLarge).Status; got != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", got)
	}
	if got := BodyError(ErrEmptyBody).Status; got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
}

func TestWriteErrorMergesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("insufficient_stock", "not enough stock", http.StatusConflict).
		WithDetails(map[string]any{"shortfalls": []map[string]any{{"product_id": "p1", "requested": 3, "available": 1}}}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "insufficient_stock" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["shortfalls"]; !ok {
		t.Fatalf("expected shortfalls detail in payload")
	}
}

func TestWriteErrorRetryAfterAndReservedKeys(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("rate_limited", "slow\ndown", http.StatusTooManyRequests).
		WithDetails(map[string]any{"status": "spoofed", "limit": 10}).
		WithRetryAfter(1500*time.Millisecond))

	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != float64(http.StatusTooManyRequests) {
		t.Fatalf("details must not override the envelope, got %v", payload["status"])
	}
	if payload["message"] != "slow down" {
		t.Fatalf("expected message whitespace collapsed, got %q", payload["message"])
	}
	if payload["limit"] != float64(10) {
		t.Fatalf("expected limit detail, got %v", payload["limit"])
	}
}
