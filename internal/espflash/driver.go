// Package espflash implements the ESP ROM bootloader protocol engine:
// SLIP framing, command/reply correlation, chip detection, RAM stub
// upload, and the compressed/raw flash write pipelines with MD5
// verification.
package espflash

import "github.com/sxwebdev/espflash/internal/transport"

// Config holds the tunables callers are expected to expose as
// configuration: initial baud rate, flash size, whether op-echo
// correlation is validated strictly, and the progress observer.
type Config struct {
	// InitialBaud is the baud rate the ROM bootloader starts at.
	InitialBaud int
	// FlashSize is reported to SPI_SET_PARAMS; defaults to
	// DefaultFlashSize (4 MiB) if zero.
	FlashSize uint32
	// Strict enables op_echo validation on every reply. Off by
	// default, matching the reference tooling's lenient behavior.
	Strict bool
	// Observer receives progress/log events. Defaults to NopObserver.
	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.InitialBaud == 0 {
		c.InitialBaud = 115200
	}
	if c.FlashSize == 0 {
		c.FlashSize = DefaultFlashSize
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return c
}

// StubProvider supplies the RAM stub blob for a given chip, if one is
// available. Implementations typically decode a small embedded
// per-chip descriptor; returning (Stub{}, false) tells the driver to
// continue in ROM-only mode.
type StubProvider interface {
	StubFor(kind ChipKind) (Stub, bool)
}

// NoStubs is a StubProvider that never has a stub, forcing every chip
// into ROM-only mode.
type NoStubs struct{}

func (NoStubs) StubFor(ChipKind) (Stub, bool) { return Stub{}, false }

// Orchestrator is the public façade combining the transport, command
// channel, chip registry, bootstrap handshake, flash session, and
// write pipeline into the operations a caller drives a programming
// run with.
type Orchestrator struct {
	t     transport.Transport
	ch    *channel
	cfg   Config
	stubs StubProvider
	sess  *session
	obs   Observer
}

// NewOrchestrator builds a driver around an already-open Transport.
// The driver takes exclusive ownership of t for its lifetime.
func NewOrchestrator(t transport.Transport, stubs StubProvider, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	if stubs == nil {
		stubs = NoStubs{}
	}
	sess := newSession()
	sess.currentBaud = cfg.InitialBaud
	return &Orchestrator{
		t:     t,
		ch:    newChannel(t, cfg.Strict),
		cfg:   cfg,
		stubs: stubs,
		sess:  sess,
		obs:   cfg.Observer,
	}
}

// EnterBootloader drives the DTR/RTS reset-into-bootloader sequence.
func (o *Orchestrator) EnterBootloader() error {
	o.obs.OnLog("entering bootloader")
	return enterBootloader(o.t)
}

// Reset drives the "run user code" DTR/RTS sequence and clears
// session state: a session is created on sync success and destroyed
// on reset.
func (o *Orchestrator) Reset() error {
	o.obs.OnLog("resetting target")
	err := runUserCode(o.t)
	o.sess = newSession()
	o.sess.currentBaud = o.cfg.InitialBaud
	return err
}

// Sync attempts the sync handshake, up to 7 times, and starts a fresh
// session on success.
func (o *Orchestrator) Sync() bool {
	o.obs.OnLog("syncing")
	if !sync(o.t, o.ch) {
		return false
	}
	// The handshake does not change the link's baud rate.
	baud := o.sess.currentBaud
	o.sess = newSession()
	o.sess.currentBaud = baud
	return true
}

// DetectChip issues READ_REG on CHIP_DETECT_MAGIC_REG_ADDR and maps
// the result to a ChipKind.
func (o *Orchestrator) DetectChip() (ChipKind, error) {
	kind, err := detectChip(o.ch)
	if err != nil {
		return ChipUnknown, err
	}
	o.sess.chipKind = kind
	o.obs.OnLog("detected " + kind.String())
	return kind, nil
}

// LoadStub uploads the RAM stub for the session's detected chip, if
// one is available. Chips without a stub succeed as a no-op; upload
// failure aborts the stub path but the caller may continue in
// ROM-only mode.
func (o *Orchestrator) LoadStub() (bool, error) {
	if !o.sess.chipKind.HasStub() {
		return true, nil
	}
	stub, ok := o.stubs.StubFor(o.sess.chipKind)
	if !ok {
		return true, nil
	}
	o.obs.OnLog("uploading RAM stub")
	if err := loadStub(o.ch, stub); err != nil {
		return false, err
	}
	o.sess.stubLoaded = true
	o.obs.OnLog("stub running")
	o.obs.OnProgress(0, "stub loaded")
	return true, nil
}

// Init performs SPI attach and SPI flash-parameter set. SPI_ATTACH is
// skipped once a stub is running, which attaches the SPI flash itself
// during boot.
func (o *Orchestrator) Init() error {
	if !o.sess.stubLoaded {
		if err := spiAttach(o.ch); err != nil {
			return err
		}
	}
	if err := spiSetParams(o.ch, o.cfg.FlashSize); err != nil {
		return err
	}
	o.sess.flashParamsSet = true
	return nil
}

// ChangeBaudRate renegotiates the serial baud rate with the chip and
// then retunes the host Transport. It is a no-op for ESP8266, which
// has no CHANGE_BAUDRATE support.
func (o *Orchestrator) ChangeBaudRate(newBaud int) error {
	if !o.sess.chipKind.supportsBaudChange() {
		return nil
	}
	rb, _ := o.t.(rebauder)
	if err := changeBaudRate(o.ch, rb, newBaud, o.sess.currentBaud, o.sess.stubLoaded); err != nil {
		return err
	}
	o.sess.currentBaud = newBaud
	return nil
}

// FlashData writes a raw (uncompressed) image to offset.
func (o *Orchestrator) FlashData(image []byte, offset uint32) error {
	o.obs.OnLog("flashing raw image")
	return writeImage(o.ch, o.sess, image, offset, false, o.obs)
}

// FlashCompressedData deflates image at maximum compression and
// writes it to offset via the FLASH_DEFL_* opcodes.
func (o *Orchestrator) FlashCompressedData(image []byte, offset uint32) error {
	o.obs.OnLog("flashing compressed image")
	return writeImage(o.ch, o.sess, image, offset, true, o.obs)
}

// FlashFinish sends FLASH_END and waits for the chip to settle.
func (o *Orchestrator) FlashFinish() error {
	o.obs.OnLog("finishing")
	return flashFinish(o.ch)
}

// Image is one firmware blob and its target flash offset, used by
// FlashImages.
type Image struct {
	Data       []byte
	Offset     uint32
	Compressed bool
}

// FlashImages is the multi-image convenience built atop the single
// primitives: it sorts by offset and flashes each with the session
// already established, mirroring the common "sort, then write each"
// shape without adopting encryption/dedup/eFuse machinery.
func (o *Orchestrator) FlashImages(images []Image) error {
	sorted := make([]Image, len(images))
	copy(sorted, images)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Offset < sorted[j-1].Offset; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for _, im := range sorted {
		var err error
		if im.Compressed {
			err = o.FlashCompressedData(im.Data, im.Offset)
		} else {
			err = o.FlashData(im.Data, im.Offset)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Ping is a liveness check: enter bootloader, sync, and detect the
// chip, without writing anything. Grounded in the pack's repeated use
// of a bare Sync as a connectivity check before any write.
func (o *Orchestrator) Ping() (ChipKind, error) {
	if err := o.EnterBootloader(); err != nil {
		return ChipUnknown, err
	}
	if !o.Sync() {
		return ChipUnknown, errTimeout("SYNC")
	}
	return o.DetectChip()
}

// DefaultFlashSizeFor returns the flash size this driver assumes for
// kind absent other configuration.
func DefaultFlashSizeFor(kind ChipKind) uint32 {
	return defaultFlashSizeFor(kind)
}

// Close releases the underlying Transport and clears session state.
func (o *Orchestrator) Close() error {
	o.sess = newSession()
	o.sess.currentBaud = o.cfg.InitialBaud
	return o.t.Close()
}
