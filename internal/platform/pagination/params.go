package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hanko-field/ordercore/internal/domain"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	// ErrInvalidPageSize indicates a non-numeric or non-positive page_size.
	ErrInvalidPageSize = errors.New("pagination: invalid page size")
	// ErrInvalidPageToken indicates a page token that cannot be decoded.
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// Parse reads page_size and page_token from the query string. Oversized pages are clamped.
func Parse(r *http.Request) (domain.Pagination, error) {
	params := domain.Pagination{PageSize: DefaultPageSize}
	if r == nil || r.URL == nil {
		return params, nil
	}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(size, DefaultMaxPageSize)
	}

	token := strings.TrimSpace(query.Get("page_token"))
	if _, err := DecodeToken(token); err != nil {
		return domain.Pagination{}, err
	}
	params.PageToken = token
	return params, nil
}

// Normalize applies the default and maximum page size.
func Normalize(p domain.Pagination) domain.Pagination {
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > DefaultMaxPageSize {
		p.PageSize = DefaultMaxPageSize
	}
	return p
}
