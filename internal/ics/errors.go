package ics

import (
	"fmt"
)

// FeedFetchError reports a network or HTTP failure while downloading a feed.
// It is fatal for the year it belongs to.
type FeedFetchError struct {
	SourceID   string
	URL        string // already redacted
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *FeedFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch feed %s (%s): status %d: %v", e.SourceID, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch feed %s (%s): %v", e.SourceID, e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// FeedParseError reports an ICS payload that cannot be decoded.
type FeedParseError struct {
	SourceID string
	Err      error
}

func (e *FeedParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.SourceID, e.Err)
}

func (e *FeedParseError) Unwrap() error { return e.Err }
