package espflash

import (
	"time"

	"github.com/sxwebdev/espflash/internal/transport"
)

const resetDelay = 100 * time.Millisecond

// enterBootloader drives the classic "hold GPIO0 low across reset"
// DTR/RTS pulse sequence: dtr=1,rts=0 -> 100ms -> dtr=0,rts=1 ->
// 100ms -> dtr=1,rts=0.
func enterBootloader(t transport.Transport) error {
	steps := []struct{ dtr, rts bool }{
		{true, false},
		{false, true},
		{true, false},
	}
	return runResetSequence(t, steps)
}

// runUserCode drives the "run user code" sequence: dtr=0,rts=0 ->
// 100ms -> dtr=0,rts=1 -> 100ms -> dtr=0,rts=0.
func runUserCode(t transport.Transport) error {
	steps := []struct{ dtr, rts bool }{
		{false, false},
		{false, true},
		{false, false},
	}
	return runResetSequence(t, steps)
}

func runResetSequence(t transport.Transport, steps []struct{ dtr, rts bool }) error {
	for i, step := range steps {
		if err := t.SetControlLines(step.dtr, step.rts); err != nil {
			return errTransport("reset", err)
		}
		if i < len(steps)-1 {
			time.Sleep(resetDelay)
		}
	}
	return nil
}

const (
	syncTimeout   = 100 * time.Millisecond
	syncAttempts  = 7
	syncRetryWait = 50 * time.Millisecond
)

// sync drives the sync handshake: up to 7 attempts of opSync with a
// short timeout, flushing the transport between attempts, succeeding
// on the first reply whose status byte is 0.
func sync(t transport.Transport, ch *channel) bool {
	payload := syncPayload()
	for attempt := 0; attempt < syncAttempts; attempt++ {
		if err := t.Flush(); err != nil {
			continue
		}
		r, err := ch.sendCommand(opSync, payload, 0, syncTimeout)
		if err == nil && r.ok() {
			return true
		}
		time.Sleep(syncRetryWait)
	}
	return false
}

// detectChip issues READ_REG on CHIP_DETECT_MAGIC_REG_ADDR and maps
// the resulting magic value to a ChipKind via the chip registry.
func detectChip(ch *channel) (ChipKind, error) {
	r, err := ch.sendCommand(opReadReg, readRegPayload(chipDetectMagicRegAddr), 0, 1*time.Second)
	if err != nil {
		return ChipUnknown, err
	}
	if !r.ok() {
		st, _ := r.status()
		return ChipUnknown, errChip("READ_REG", st)
	}
	return detectChipKind(r.value)
}
