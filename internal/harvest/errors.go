package harvest

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a keyed lookup has no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by stores when an insert collides with an existing key.
var ErrDuplicate = errors.New("duplicate key")

// FetchError reports a transport failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DateFormatError reports a publish date that matches no known layout.
type DateFormatError struct {
	Text string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("unrecognized date %q", e.Text)
}

// MarkFormatError reports a mark that is neither a sentinel nor a supported time.
type MarkFormatError struct {
	Text string
}

func (e *MarkFormatError) Error() string {
	return fmt.Sprintf("unrecognized mark %q", e.Text)
}

// UnclassifiableEventError reports an event title that no rule accepts.
type UnclassifiableEventError struct {
	Title  string
	Reason string
}

func (e *UnclassifiableEventError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unclassifiable event %q", e.Title)
	}
	return fmt.Sprintf("unclassifiable event %q: %s", e.Title, e.Reason)
}

// ReferenceFormatError reports a link that does not carry the expected identifier.
type ReferenceFormatError struct {
	Kind      string
	Reference string
}

func (e *ReferenceFormatError) Error() string {
	return fmt.Sprintf("malformed %s reference %q", e.Kind, e.Reference)
}

// EntityFetchError reports a detail page that could not be fetched or parsed.
type EntityFetchError struct {
	Kind      string
	Reference string
	Err       error
}

func (e *EntityFetchError) Error() string {
	return fmt.Sprintf("resolve %s %s: %v", e.Kind, e.Reference, e.Err)
}

func (e *EntityFetchError) Unwrap() error {
	return e.Err
}
