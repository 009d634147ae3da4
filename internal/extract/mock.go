package extract

import (
	"context"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// MockExtractor provides a canned Extractor implementation for tests and
// offline development, keyed by page URL.
type MockExtractor struct {
	Events map[string]*models.NormalizedEvent
	Err    error
	Calls  int
}

// NewMockExtractor creates an empty mock.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{Events: make(map[string]*models.NormalizedEvent)}
}

// ExtractEvent returns the canned event for pageURL.
func (m *MockExtractor) ExtractEvent(ctx context.Context, pageText, pageURL string) (*models.NormalizedEvent, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if event, ok := m.Events[pageURL]; ok {
		copied := *event
		return &copied, nil
	}
	return nil, errNotFound(pageURL)
}

type errNotFound string

func (e errNotFound) Error() string {
	return "no canned extraction for " + string(e)
}

var _ Extractor = (*MockExtractor)(nil)
