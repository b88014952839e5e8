// Package transport defines the narrow byte-level capability the
// protocol engine needs from a serial link, and a go.bug.st/serial
// backed implementation of it.
package transport

import "time"

// Transport is the capability the driver needs from a serial link:
// flush, short-timeout read, write, and DTR/RTS control. It owns no
// framing logic — that's the slip package's job.
type Transport interface {
	// Flush discards any buffered input and output.
	Flush() error

	// Read fills buf with whatever is available within the transport's
	// current read deadline and returns the number of bytes read.
	// Returning 0, nil is normal and means "no data yet".
	Read(buf []byte) (int, error)

	// Write sends buf in full or returns an error.
	Write(buf []byte) (int, error)

	// SetControlLines toggles DTR/RTS, used by the reset sequences.
	SetControlLines(dtr, rts bool) error

	// SetReadTimeout adjusts how long Read may block before returning
	// 0, nil.
	SetReadTimeout(d time.Duration) error

	// Close releases the underlying link.
	Close() error
}
