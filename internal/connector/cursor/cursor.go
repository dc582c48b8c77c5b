// Package cursor normalizes the pagination styles of the supported vendors
// into a single "next cursor or nil" shape.  A nil cursor always means the
// listing is exhausted.
package cursor

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// EncodeInt renders a numeric cursor (an offset or a page number) as the
// string form carried in sync requests.
func EncodeInt(value int) *string {
	s := strconv.Itoa(value)
	return &s
}

// DecodeInt parses a numeric cursor.  A nil cursor decodes to the given
// starting value.
func DecodeInt(cursor *string, start int) (int, error) {
	if cursor == nil {
		return start, nil
	}
	value, err := strconv.Atoi(*cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed numeric cursor %q: %w", *cursor, err)
	}
	return value, nil
}

// NextOffset computes the cursor after an offset paginated page.  A page
// shorter than the requested size means the listing is exhausted.
func NextOffset(currentOffset int, itemCount int, pageSize int) *string {
	if itemCount < pageSize {
		return nil
	}
	return EncodeInt(currentOffset + itemCount)
}

// NextPage computes the cursor after a page-counter paginated page.  An
// empty page means the previous page was the last one.
func NextPage(currentPage int, itemCount int) *string {
	if itemCount == 0 {
		return nil
	}
	return EncodeInt(currentPage + 1)
}

// FromToken lifts an opaque continuation token into a cursor.  Vendors
// signal the end of a listing with an empty or absent token.
func FromToken(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}

// FromNextURL lifts a vendor supplied "next page" URL into a cursor.  The
// whole URL is carried as the cursor so the vendor client can follow it
// verbatim.
func FromNextURL(nextURL string) *string {
	if nextURL == "" {
		return nil
	}
	return &nextURL
}

// FromLinkHeader extracts the rel="next" target from an RFC 5988 Link
// header.  Returns nil when the header has no next link.
func FromLinkHeader(headers http.Header) *string {
	linkHeader := headers.Get("Link")
	if linkHeader == "" {
		return nil
	}

	for _, link := range strings.Split(linkHeader, ",") {
		segments := strings.Split(strings.TrimSpace(link), ";")
		if len(segments) < 2 {
			continue
		}

		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")

		for _, segment := range segments[1:] {
			if strings.TrimSpace(segment) == `rel="next"` {
				return FromNextURL(target)
			}
		}
	}

	return nil
}

// QueryParam pulls one query parameter out of a URL shaped cursor.  Used by
// vendors whose next links embed the real continuation value.
func QueryParam(rawURL string, param string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("malformed cursor url %q: %w", rawURL, err)
	}
	return parsed.Query().Get(param), nil
}
