package espflash

import "time"

const finishSettleDelay = 200 * time.Millisecond

// flashFinish sends FLASH_END with the two-byte sentinel prefix and a
// trailing "do not reboot immediately" word, then waits out a settle
// delay.
func flashFinish(ch *channel) error {
	payload := make([]byte, 6)
	payload[0], payload[1] = 0x3C, 0x49
	putU32LE(payload, 2, 1)

	r, err := ch.sendCommand(opFlashEnd, payload, 0, 3*time.Second)
	if err != nil {
		return err
	}
	if !r.ok() {
		st, _ := r.status()
		return errChip("FLASH_END", st)
	}

	time.Sleep(finishSettleDelay)
	return nil
}
