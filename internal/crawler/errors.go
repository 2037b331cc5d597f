package crawler

import (
	"errors"
	"fmt"

	"github.com/avmeta/harvester/pkg/types"
)

// Lookup failures fall into four classes. Callers branch on them with
// errors.Is: NotFound and Mismatch are normal outcomes worth caching,
// Parse means the site changed its markup, Network means the transport
// gave up.
var (
	ErrNotFound = errors.New("no result on site")
	ErrMismatch = errors.New("result number mismatch")
	ErrParse    = errors.New("unexpected page structure")
	ErrNetwork  = errors.New("network failure")
)

// NotFound reports that a site has no record for the number.
func NotFound(site types.Website, number string) error {
	return fmt.Errorf("%s: %q: %w", site, number, ErrNotFound)
}

// Mismatch reports that the site returned a different number than asked.
func Mismatch(site types.Website, want, got string) error {
	return fmt.Errorf("%s: wanted %q, page is %q: %w", site, want, got, ErrMismatch)
}

// Parse reports markup the crawler no longer understands.
func Parse(site types.Website, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s: %w", site, fmt.Sprintf(format, args...), ErrParse)
}

// Network wraps a transport failure.
func Network(site types.Website, err error) error {
	return fmt.Errorf("%s: %v: %w", site, err, ErrNetwork)
}

// Permanent reports whether retrying the same lookup would change
// anything. Parse and network trouble may clear up; a missing or
// mismatched record will not.
func Permanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrMismatch)
}
