package espflash

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// defaultBlockTimeout and the per-MB scale factors below drive the
	// per-block and MD5 timeouts.
	defaultBlockTimeout = 3000 * time.Millisecond
	perMBBlockTimeout   = 40 * time.Millisecond // per MB of block data
	perMBMD5Timeout     = 8 * time.Millisecond  // per MB of verified data

	maxBlockRetries = 1 // one retry of the same seq before the image write fails
)

// writeImage writes a single image end to end: BEGIN, the chunked
// block loop (raw or deflate), and MD5 verify. The compressed flag
// selects FLASH_* vs FLASH_DEFL_* opcodes. obs is notified after every
// block and after the verify completes.
func writeImage(ch *channel, sess *session, data []byte, offset uint32, compressed bool, obs Observer) error {
	if obs == nil {
		obs = NopObserver{}
	}

	rawSize := uint32(len(data))
	blockSize := sess.blockSize()

	payload := data
	if compressed {
		var buf bytes.Buffer
		w, _ := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		_, _ = w.Write(data)
		_ = w.Close()
		payload = buf.Bytes()
	}

	numBlocks := ceilDiv(len(payload), blockSize)

	// erase_blocks is computed from the uncompressed size against the
	// transfer block size (not the flash sector size) and used only to
	// size the ROM-mode erase budget in BEGIN's write_size field.
	var writeSize uint32
	if sess.stubLoaded {
		writeSize = rawSize
	} else {
		eraseBlocks := ceilDiv(int(rawSize), blockSize)
		writeSize = uint32(eraseBlocks) * uint32(blockSize)
	}

	if err := flashBegin(ch, sess, writeSize, uint32(numBlocks), uint32(blockSize), offset, compressed); err != nil {
		return err
	}

	if err := flashBlockLoop(ch, payload, blockSize, compressed, offset, obs); err != nil {
		return err
	}

	if !sess.chipKind.supportsMD5() {
		return nil
	}
	if err := verifyMD5(ch, sess, data, offset); err != nil {
		obs.OnProgress(100, fmt.Sprintf("verify failed at offset 0x%x", offset))
		return err
	}
	obs.OnProgress(100, fmt.Sprintf("verified offset 0x%x", offset))
	return nil
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// flashBegin sends FLASH_BEGIN or FLASH_DEFL_BEGIN. Chips
// ESP32-S2/S3/C2/C3/C6/H2 carry a trailing 32-bit zero word; ESP32
// and ESP8266 do not.
func flashBegin(ch *channel, sess *session, writeSize, numBlocks, blockSize, offset uint32, compressed bool) error {
	size := 16
	if sess.chipKind.beginTrailer() {
		size = 20
	}
	payload := make([]byte, size)
	putU32LE(payload, 0, writeSize)
	putU32LE(payload, 4, numBlocks)
	putU32LE(payload, 8, blockSize)
	putU32LE(payload, 12, offset)
	if size == 20 {
		putU32LE(payload, 16, 0)
	}

	op := byte(opFlashBegin)
	if compressed {
		op = opFlashDeflBegin
	}

	timeout := 10 * time.Second
	if !sess.stubLoaded {
		// ROM mode erases as part of BEGIN; budget generously for it.
		timeout = 20 * time.Second
	}

	r, err := ch.sendCommand(op, payload, 0, timeout)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip(opName(op), st)
	}
	return nil
}

// flashBlockLoop sends the payload in blockSize chunks, retrying a
// failed block once before aborting the image, and reports progress
// to obs after each accepted block.
func flashBlockLoop(ch *channel, payload []byte, blockSize int, compressed bool, offset uint32, obs Observer) error {
	op := byte(opFlashData)
	if compressed {
		op = opFlashDeflData
	}

	numBlocks := ceilDiv(len(payload), blockSize)
	for seq := 0; seq < numBlocks; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		block := chunk
		if !compressed && len(chunk) < blockSize {
			// Raw path pads the final block to blockSize with 0xFF;
			// the deflate path sends the tail at its natural length.
			padded := make([]byte, blockSize)
			copy(padded, chunk)
			for i := len(chunk); i < blockSize; i++ {
				padded[i] = 0xFF
			}
			block = padded
		}

		if err := sendFlashBlock(ch, op, block, uint32(seq)); err != nil {
			return err
		}

		percent := (seq + 1) * 100 / numBlocks
		obs.OnProgress(percent, fmt.Sprintf("wrote block %d/%d at offset 0x%x", seq+1, numBlocks, offset))
	}
	return nil
}

func sendFlashBlock(ch *channel, op byte, block []byte, seq uint32) error {
	payload := make([]byte, 16+len(block))
	putU32LE(payload, 0, uint32(len(block)))
	putU32LE(payload, 4, seq)
	putU32LE(payload, 8, 0)
	putU32LE(payload, 12, 0)
	copy(payload[16:], block)

	chk := xorChecksum(block)
	timeout := blockTimeout(len(block))

	var lastErr error
	for attempt := 0; attempt <= maxBlockRetries; attempt++ {
		r, err := ch.sendCommand(op, payload, chk, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if !r.ok() {
			st, _ := r.status()
			lastErr = errChip(opName(op), st)
			continue
		}
		return nil
	}
	return lastErr
}

// blockTimeout scales with chunk size (40ms per MB) with a floor of
// defaultBlockTimeout.
func blockTimeout(chunkSize int) time.Duration {
	scaled := time.Duration(chunkSize) * perMBBlockTimeout / (1024 * 1024)
	if scaled > defaultBlockTimeout {
		return scaled
	}
	return defaultBlockTimeout
}

// md5Timeout scales with verified size (8ms per MB) with a floor of
// defaultBlockTimeout.
func md5Timeout(size uint32) time.Duration {
	scaled := time.Duration(size) * perMBMD5Timeout / (1024 * 1024)
	if scaled > defaultBlockTimeout {
		return scaled
	}
	return defaultBlockTimeout
}

// verifyMD5 issues SPI_FLASH_MD5 and compares against a local digest
// of the raw image. The reply carries the digest either as 16 raw
// bytes (stub mode) or a 32-character hex string (ROM mode); length
// inspection distinguishes the two.
func verifyMD5(ch *channel, sess *session, data []byte, offset uint32) error {
	payload := make([]byte, 16)
	putU32LE(payload, 0, offset)
	putU32LE(payload, 4, uint32(len(data)))
	putU32LE(payload, 8, 0)
	putU32LE(payload, 12, 0)

	r, err := ch.sendCommand(opSpiFlashMD5, payload, 0, md5Timeout(uint32(len(data))))
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("SPI_FLASH_MD5", st)
	}

	digest, err := extractMD5Digest(r.data)
	if err != nil {
		return errBadFrame("SPI_FLASH_MD5", err)
	}

	want := md5.Sum(data)
	if !bytes.Equal(digest, want[:]) {
		return errVerifyFailed(offset)
	}
	return nil
}

// extractMD5Digest strips the trailing status byte and returns the
// raw 16-byte digest, decoding a hex string if that's the form the
// chip sent (ROM mode).
func extractMD5Digest(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, errShortMD5Reply
	}
	body := data[:len(data)-1] // drop trailing status byte
	switch len(body) {
	case md5.Size:
		return body, nil
	case md5.Size * 2:
		digest := make([]byte, md5.Size)
		if _, err := hex.Decode(digest, body); err != nil {
			return nil, err
		}
		return digest, nil
	default:
		return nil, errShortMD5Reply
	}
}

var errShortMD5Reply = errors.New("espflash: unexpected SPI_FLASH_MD5 reply length")
