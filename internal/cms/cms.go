package cms

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by Disabled for every call.
var ErrNotConfigured = errors.New("cms: not configured")

// Page is the content written to the external content store.
type Page struct {
	Title     string
	Excerpt   string
	Content   string
	Date      string
	Category  string
	Tags      []string
	Published bool
}

// Publisher writes pages to the external content store.
type Publisher interface {
	CreatePage(ctx context.Context, p Page) (string, error)
	SetPublished(ctx context.Context, pageID string, published bool) error
}

// Disabled is used when no CMS credentials are configured.
type Disabled struct{}

func (Disabled) CreatePage(context.Context, Page) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) SetPublished(context.Context, string, bool) error {
	return ErrNotConfigured
}
