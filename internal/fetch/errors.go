package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImage is returned when no usable lead image was found
	ErrNoImage = errors.New("no lead image found")
	// ErrUnknownSectionKind is returned for a section that is neither html nor rss
	ErrUnknownSectionKind = errors.New("unknown section kind")
)

// FetchError reports a failed request for a listing page.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
