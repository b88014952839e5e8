package espflash

import "time"

// rebauder is implemented by transports that support switching their
// baud rate mid-session. transport.SerialTransport implements it;
// mock transports used in tests may implement it trivially.
type rebauder interface {
	Rebaud(baud int) error
}

// DefaultFlashSize is the flash capacity assumed when the caller
// doesn't specify one.
const DefaultFlashSize = 4 * 1024 * 1024 // 4 MiB

// defaultFlashSizeFor is chip-independent in this driver: flash_size
// is exposed as configuration rather than tied to chip detection
// (SFDP auto-detection is explicitly out of scope).
func defaultFlashSizeFor(ChipKind) uint32 { return DefaultFlashSize }

// spiAttach issues SPI_ATTACH with 8 zero bytes, valid only on the ROM
// path.
func spiAttach(ch *channel) error {
	r, err := ch.sendCommand(opSpiAttach, make([]byte, 8), 0, 3*time.Second)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("SPI_ATTACH", st)
	}
	return nil
}

// spiSetParams issues SPI_SET_PARAMS with the six little-endian words
// the ROM expects: zero id, flash size in bytes, block size, sector
// size, page size, and a status mask.
func spiSetParams(ch *channel, flashSize uint32) error {
	payload := make([]byte, 24)
	putU32LE(payload, 0, 0)
	putU32LE(payload, 4, flashSize)
	putU32LE(payload, 8, 0x10000)
	putU32LE(payload, 12, 0x1000)
	putU32LE(payload, 16, 256)
	putU32LE(payload, 20, 0xFFFF)

	r, err := ch.sendCommand(opSpiSetParams, payload, 0, 3*time.Second)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("SPI_SET_PARAMS", st)
	}
	return nil
}

// changeBaudRate issues CHANGE_BAUDRATE and, once the chip
// acknowledges, switches the host Transport to the new rate — the
// host must only rebaud after the chip ACKs, never before. ESP8266
// does not support this command and is skipped by the caller.
func changeBaudRate(ch *channel, t rebauder, newBaud, oldBaud int, stubMode bool) error {
	secondArg := uint32(0)
	if stubMode {
		secondArg = uint32(oldBaud)
	}

	payload := make([]byte, 8)
	putU32LE(payload, 0, uint32(newBaud))
	putU32LE(payload, 4, secondArg)

	r, err := ch.sendCommand(opChangeBaudrate, payload, 0, 3*time.Second)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("CHANGE_BAUDRATE", st)
	}

	if t != nil {
		if err := t.Rebaud(newBaud); err != nil {
			return errTransport("CHANGE_BAUDRATE", err)
		}
	}
	return nil
}
