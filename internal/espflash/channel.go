package espflash

import (
	"errors"
	"time"

	"github.com/sxwebdev/espflash/internal/slip"
	"github.com/sxwebdev/espflash/internal/transport"
)

// pollInterval is how often the channel re-arms the transport's short
// read timeout while waiting for a frame; the deadline is checked on
// every read poll, not just once up front.
const pollInterval = 20 * time.Millisecond

// channel builds a request, SLIP-encodes it, writes it, and reads one
// byte at a time until a complete reply frame arrives or the deadline
// elapses.
type channel struct {
	t      transport.Transport
	strict bool // validate reply.opEcho == request op
}

func newChannel(t transport.Transport, strict bool) *channel {
	return &channel{t: t, strict: strict}
}

// sendCommand builds the request packet, SLIP-encodes it, writes it,
// and waits up to timeout for a matching reply.
//
// The reference implementation does not check the reply's op_echo
// against the sent op; in strict mode this implementation does and
// treats a mismatch as BadFrame. Default behavior is unchanged from
// the reference: strict is opt-in.
func (c *channel) sendCommand(op byte, payload []byte, chk uint32, timeout time.Duration) (reply, error) {
	packet := buildPacket(op, payload, chk)
	encoded := slip.Encode(packet)
	if _, err := c.t.Write(encoded); err != nil {
		return reply{}, errTransport(opName(op), err)
	}

	frame, err := c.readFrame(timeout, opName(op))
	if err != nil {
		return reply{}, err
	}

	body, err := slip.Decode(frame)
	if err != nil {
		return reply{}, errBadFrame(opName(op), err)
	}

	r, err := decodeReply(body)
	if err != nil {
		return reply{}, errBadFrame(opName(op), err)
	}

	if c.strict && r.opEcho != op {
		return reply{}, errBadFrame(opName(op), errOpMismatch)
	}

	return r, nil
}

var errOpMismatch = errors.New("reply op_echo does not match request op")

// readFrame reads bytes until a full 0xC0-delimited frame is observed
// or the deadline elapses. A leading 0xC0 seen while not in-frame opens
// a new frame and discards any stray bytes collected before it.
func (c *channel) readFrame(timeout time.Duration, op string) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	var frame []byte
	inFrame := false
	buf := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errTimeout(op)
		}
		readTimeout := pollInterval
		if remaining < readTimeout {
			readTimeout = remaining
		}
		if err := c.t.SetReadTimeout(readTimeout); err != nil {
			return nil, errTransport(op, err)
		}

		n, err := c.t.Read(buf)
		if err != nil {
			return nil, errTransport(op, err)
		}
		if n == 0 {
			continue
		}

		b := buf[0]
		if b == slip.End {
			if inFrame {
				frame = append(frame, b)
				return frame, nil
			}
			inFrame = true
			frame = frame[:0]
			frame = append(frame, b)
			continue
		}
		if !inFrame {
			// Stray byte before the frame opens; discard it.
			continue
		}
		frame = append(frame, b)
	}
}
