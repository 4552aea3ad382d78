package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

var (
	ErrNotFound   = errors.New("object_not_found")
	ErrInvalidKey = errors.New("invalid_object_key")
)

type Object struct {
	Key         string
	ContentType string
	Size        int64
}

// Store keeps issued invoice documents.
type Store interface {
	Put(ctx context.Context, key, contentType string, content []byte) (Object, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectKey builds the key an invoice file is stored under, for example
// invoices/proveedora-del-norte/2025-03/inv_123.pdf.
func ObjectKey(legalName, period, documentID, extension string) string {
	owner := slug.Make(legalName)
	if owner == "" {
		owner = "unnamed"
	}
	return fmt.Sprintf("invoices/%s/%s/%s.%s",
		owner,
		slug.Make(period),
		slug.Make(documentID),
		strings.TrimPrefix(strings.ToLower(extension), "."),
	)
}
