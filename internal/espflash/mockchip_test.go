package espflash

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/hex"
	"io"
	"time"

	"github.com/sxwebdev/espflash/internal/slip"
)

// mockChip is an in-memory stand-in for a real ESP ROM bootloader
// (and, once MEM_END succeeds, its uploaded RAM stub), used by the
// end-to-end tests in this package. It decodes each request it
// receives and produces the wire reply a real chip would.
type mockChip struct {
	magic uint32

	// stubModeDigest selects how SPI_FLASH_MD5 encodes its digest: 16
	// raw bytes (stub mode) or a 32-character hex string (ROM mode).
	stubModeDigest bool

	// active flash-write session, valid between FLASH_BEGIN and the
	// matching FLASH_END; no interleaving of two sessions is modeled.
	writeOffset     uint32
	writeCompressed bool
	writeBuf        bytes.Buffer
	seqSeen         []uint32 // sequence numbers accepted, in arrival order
	attemptsSeen    []uint32 // every attempt, including dropped ones
	blockLens       []int    // wire length of each accepted block
	nextSeq         uint32
	blockSizeWire   uint32

	// dropOnce, keyed by sequence number, causes the chip to swallow
	// (not reply to) the next FLASH_DATA/FLASH_DEFL_DATA for that seq
	// exactly once, simulating a lost reply.
	dropOnce map[uint32]bool

	// forceBadMD5 makes handleMD5 return a digest that never matches,
	// simulating on-flash corruption.
	forceBadMD5 bool

	// lastBeginPayload records the most recent FLASH_BEGIN/
	// FLASH_DEFL_BEGIN payload verbatim, for byte-for-byte assertions.
	lastBeginPayload []byte
	lastBeginOp      byte

	// beginOffsets records the offset field of every FLASH_BEGIN/
	// FLASH_DEFL_BEGIN seen, in arrival order.
	beginOffsets []uint32

	// RAM stub upload tracking: one MEM_BEGIN resets memSeqSeen and
	// records the segment's size/blockSize/loadAddr; each MEM_DATA
	// appends to memSeqSeen/memBlockLens/memWriteBuf; MEM_END appends
	// to memEntries and sets memEndCalled.
	memSeqSeen       []uint32
	memBlockLens     []int
	memWriteBuf      bytes.Buffer
	memBlockSizeWire uint32
	memLoadAddr      uint32
	memSizeWire      uint32
	memEndCalled     bool
	memEntries       []uint32

	// forceMemBeginFail makes every MEM_BEGIN fail, for exercising the
	// stub-load abort path.
	forceMemBeginFail bool
}

func newMockChip(magic uint32) *mockChip {
	return &mockChip{magic: magic, dropOnce: map[uint32]bool{}}
}

// handle decodes one request packet (post-SLIP) and returns the
// SLIP-encoded reply frame, or nil to simulate a dropped reply.
func (m *mockChip) handle(op byte, payload []byte, chk uint32) []byte {
	switch op {
	case opSync:
		return m.replyValue(op, 0, []byte{0x00})
	case opReadReg:
		addr := u32LE(payload[0:4])
		if addr == chipDetectMagicRegAddr {
			return m.replyValue(op, m.magic, []byte{0x00})
		}
		return m.replyValue(op, 0, []byte{0x00})
	case opMemBegin:
		if m.forceMemBeginFail {
			return m.replyValue(op, 0, []byte{0x01})
		}
		m.memSizeWire = u32LE(payload[0:4])
		m.memBlockSizeWire = u32LE(payload[8:12])
		m.memLoadAddr = u32LE(payload[12:16])
		m.memSeqSeen = nil
		m.memBlockLens = nil
		m.memWriteBuf.Reset()
		return m.replyValue(op, 0, []byte{0x00})
	case opMemData:
		return m.handleMemData(op, payload, chk)
	case opMemEnd:
		m.memEndCalled = true
		m.memEntries = append(m.memEntries, u32LE(payload[4:8]))
		return m.replyValue(op, 0, []byte{0x00})
	case opSpiAttach, opSpiSetParams, opChangeBaudrate:
		return m.replyValue(op, 0, []byte{0x00})
	case opFlashBegin, opFlashDeflBegin:
		m.lastBeginOp = op
		m.lastBeginPayload = append([]byte(nil), payload...)
		m.writeOffset = u32LE(payload[12:16])
		m.writeCompressed = op == opFlashDeflBegin
		m.blockSizeWire = u32LE(payload[8:12])
		m.beginOffsets = append(m.beginOffsets, m.writeOffset)
		m.writeBuf.Reset()
		m.seqSeen = nil
		m.nextSeq = 0
		return m.replyValue(op, 0, []byte{0x00})
	case opFlashData, opFlashDeflData:
		return m.handleData(op, payload, chk)
	case opFlashEnd:
		return m.replyValue(op, 0, []byte{0x00})
	case opSpiFlashMD5:
		return m.handleMD5(op, payload)
	default:
		return m.replyValue(op, 0, []byte{0x01})
	}
}

func (m *mockChip) handleData(op byte, payload []byte, chk uint32) []byte {
	blockLen := u32LE(payload[0:4])
	seq := u32LE(payload[4:8])
	block := payload[16 : 16+blockLen]

	if uint32(len(block)) != blockLen || xorChecksum(block) != chk {
		return m.replyValue(op, 0, []byte{0x01})
	}

	m.attemptsSeen = append(m.attemptsSeen, seq)

	if m.dropOnce[seq] {
		delete(m.dropOnce, seq)
		return nil
	}

	m.seqSeen = append(m.seqSeen, seq)
	m.blockLens = append(m.blockLens, len(block))
	m.writeBuf.Write(block)
	return m.replyValue(op, 0, []byte{0x00})
}

func (m *mockChip) handleMemData(op byte, payload []byte, chk uint32) []byte {
	blockLen := u32LE(payload[0:4])
	seq := u32LE(payload[4:8])
	block := payload[16 : 16+blockLen]

	if uint32(len(block)) != blockLen || xorChecksum(block) != chk {
		return m.replyValue(op, 0, []byte{0x01})
	}

	m.memSeqSeen = append(m.memSeqSeen, seq)
	m.memBlockLens = append(m.memBlockLens, len(block))
	m.memWriteBuf.Write(block)
	return m.replyValue(op, 0, []byte{0x00})
}

func (m *mockChip) handleMD5(op byte, payload []byte) []byte {
	addr := u32LE(payload[0:4])
	size := u32LE(payload[4:8])

	raw := m.writeBuf.Bytes()
	if m.writeCompressed {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return m.replyValue(op, 0, []byte{0x01})
		}
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return m.replyValue(op, 0, []byte{0x01})
		}
		raw = decompressed
	}

	start := int(addr - m.writeOffset)
	end := start + int(size)
	if start < 0 || end > len(raw) {
		end = len(raw)
	}
	if start > end {
		start = end
	}
	sum := md5.Sum(raw[start:end])
	if m.forceBadMD5 {
		sum[0] ^= 0xFF
	}

	var digestBytes []byte
	if m.stubModeDigest {
		digestBytes = sum[:]
	} else {
		digestBytes = []byte(hex.EncodeToString(sum[:]))
	}
	data := append(digestBytes, 0x00)
	return m.replyValue(op, 0, data)
}

func (m *mockChip) replyValue(op byte, value uint32, data []byte) []byte {
	packet := make([]byte, 8+len(data))
	packet[0] = dirResponse
	packet[1] = op
	packet[2] = byte(len(data))
	packet[3] = byte(len(data) >> 8)
	putU32LE(packet, 4, value)
	copy(packet[8:], data)
	return slip.Encode(packet)
}

// mockTransport implements transport.Transport (and rebauder) on top
// of a mockChip, feeding replies back through a one-byte-at-a-time
// Read the same way a real serial port would.
type mockTransport struct {
	chip     *mockChip
	pending  [][]byte
	curFrame []byte
	rebauds  []int
}

func newMockTransport(chip *mockChip) *mockTransport {
	return &mockTransport{chip: chip}
}

func (t *mockTransport) Flush() error {
	t.pending = nil
	t.curFrame = nil
	return nil
}

func (t *mockTransport) Read(buf []byte) (int, error) {
	if len(t.curFrame) == 0 {
		if len(t.pending) == 0 {
			return 0, nil
		}
		t.curFrame = t.pending[0]
		t.pending = t.pending[1:]
	}
	n := copy(buf, t.curFrame)
	t.curFrame = t.curFrame[n:]
	return n, nil
}

func (t *mockTransport) Write(buf []byte) (int, error) {
	body, err := slip.Decode(buf)
	if err != nil {
		return 0, err
	}
	if len(body) < 8 {
		return len(buf), nil
	}
	op := body[1]
	size := int(body[2]) | int(body[3])<<8
	chk := u32LE(body[4:8])
	payload := body[8:]
	if size > len(payload) {
		size = len(payload)
	}
	payload = payload[:size]

	reply := t.chip.handle(op, payload, chk)
	if reply != nil {
		t.pending = append(t.pending, reply)
	}
	return len(buf), nil
}

func (t *mockTransport) SetControlLines(dtr, rts bool) error { return nil }

func (t *mockTransport) SetReadTimeout(d time.Duration) error { return nil }

func (t *mockTransport) Close() error { return nil }

func (t *mockTransport) Rebaud(baud int) error {
	t.rebauds = append(t.rebauds, baud)
	return nil
}
