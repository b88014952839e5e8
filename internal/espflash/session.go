package espflash

// session holds the per-chip state: created on sync success, destroyed
// on reset or transport close. Every Orchestrator method that needs
// chip-specific behavior (stub opcodes, begin trailer, baud change)
// reads it from here rather than threading individual flags through
// call sites.
type session struct {
	chipKind       ChipKind
	stubLoaded     bool
	currentBaud    int
	flashParamsSet bool
}

func newSession() *session {
	return &session{}
}

// blockSize returns the flash transfer chunk for the current session
// state: 0x400 in ROM mode, 0x4000 once the stub is loaded.
func (s *session) blockSize() int {
	if s.stubLoaded {
		return 0x4000
	}
	return 0x400
}
