package parser

import "errors"

var (
	// ErrUnsupportedVersion means the file header carries a version other
	// than SupportedVersion. Nothing in the file is decoded.
	ErrUnsupportedVersion = errors.New("unsupported log version")
	// ErrTruncatedHeader means the file is too short to hold a header.
	ErrTruncatedHeader = errors.New("truncated header")
	// ErrTruncatedRecord means a record started but the file ended before it
	// was complete. Records read before it are valid.
	ErrTruncatedRecord = errors.New("truncated record")
	// ErrInvalidEncoding means an event message contained non-ASCII bytes.
	ErrInvalidEncoding = errors.New("invalid event encoding")
)
