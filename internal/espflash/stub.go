package espflash

import "time"

// memBlockSize is the block size used for MEM_DATA transfers while
// uploading the RAM stub.
const memBlockSize = 0x1800

// Stub is the decoded RAM-resident loader uploaded to chips that have
// one. Representation-agnostic: callers may decode it from any source
// (a common approach is a small JSON document with base64 blobs per
// chip) as long as these five fields are populated.
type Stub struct {
	Entry     uint32
	TextStart uint32
	Text      []byte
	DataStart uint32
	Data      []byte
}

// stubSegment is one of the stub's two blobs (text, data), paired with
// its load address for the MEM_BEGIN/MEM_DATA sequence.
type stubSegment struct {
	loadAddr uint32
	bytes    []byte
}

func (s Stub) segments() []stubSegment {
	segs := make([]stubSegment, 0, 2)
	if len(s.Text) > 0 {
		segs = append(segs, stubSegment{loadAddr: s.TextStart, bytes: s.Text})
	}
	if len(s.Data) > 0 {
		segs = append(segs, stubSegment{loadAddr: s.DataStart, bytes: s.Data})
	}
	return segs
}

// loadStub runs the RAM stub upload state machine: MEM_BEGIN,
// num_blocks x MEM_DATA per segment, then one MEM_END. Any step's
// failure aborts with StubLoadFailed; the caller may continue in
// ROM-only mode.
func loadStub(ch *channel, s Stub) error {
	for _, seg := range s.segments() {
		if err := memBegin(ch, seg); err != nil {
			return errStubLoad("mem_begin", err)
		}
		if err := memDataBlocks(ch, seg); err != nil {
			return errStubLoad("mem_data", err)
		}
	}
	if err := memEnd(ch, s.Entry); err != nil {
		return errStubLoad("mem_end", err)
	}
	return nil
}

func memBegin(ch *channel, seg stubSegment) error {
	numBlocks := uint32((len(seg.bytes) + memBlockSize - 1) / memBlockSize)
	payload := make([]byte, 16)
	putU32LE(payload, 0, uint32(len(seg.bytes)))
	putU32LE(payload, 4, numBlocks)
	putU32LE(payload, 8, memBlockSize)
	putU32LE(payload, 12, seg.loadAddr)

	r, err := ch.sendCommand(opMemBegin, payload, 0, 3*time.Second)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("MEM_BEGIN", st)
	}
	return nil
}

func memDataBlocks(ch *channel, seg stubSegment) error {
	data := seg.bytes
	seq := uint32(0)
	for off := 0; off < len(data); off += memBlockSize {
		end := off + memBlockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[off:end]

		payload := make([]byte, 16+len(block))
		putU32LE(payload, 0, uint32(len(block)))
		putU32LE(payload, 4, seq)
		putU32LE(payload, 8, 0)
		putU32LE(payload, 12, 0)
		copy(payload[16:], block)

		chk := xorChecksum(block)
		r, err := ch.sendCommand(opMemData, payload, chk, 3*time.Second)
		if err != nil {
			return err
		}
		if !r.ok() {
			st, _ := r.status()
			return errChip("MEM_DATA", st)
		}
		seq++
	}
	return nil
}

func memEnd(ch *channel, entry uint32) error {
	payload := make([]byte, 8)
	putU32LE(payload, 0, 0)
	putU32LE(payload, 4, entry)

	r, err := ch.sendCommand(opMemEnd, payload, 0, 3*time.Second)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("MEM_END", st)
	}
	return nil
}
