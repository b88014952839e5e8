package espflash

// ChipKind is a closed enumeration of the ESP chip families this
// driver supports. Identity is expressed as a sum type (variants with
// associated per-chip data) rather than scattering integer-constant
// comparisons through the rest of the driver.
type ChipKind int

const (
	ChipUnknown ChipKind = iota
	ChipESP8266
	ChipESP32
	ChipESP32S2
	ChipESP32S3
	ChipESP32C2
	ChipESP32C3
	ChipESP32C6
	ChipESP32H2
)

func (c ChipKind) String() string {
	switch c {
	case ChipESP8266:
		return "ESP8266"
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C2:
		return "ESP32-C2"
	case ChipESP32C3:
		return "ESP32-C3"
	case ChipESP32C6:
		return "ESP32-C6"
	case ChipESP32H2:
		return "ESP32-H2"
	default:
		return "Unknown"
	}
}

// chipInfo carries a chip's quirks: its recognized ROM magic values,
// whether it has a RAM stub, and whether its FLASH_BEGIN payload
// carries the trailing 32-bit zero word.
type chipInfo struct {
	kind          ChipKind
	magics        []uint32
	hasStub       bool
	beginTrailer  bool // trailing zero word on FLASH_BEGIN/FLASH_DEFL_BEGIN
	hasBaudChange bool // ESP8266 has no CHANGE_BAUDRATE support
	hasMD5        bool // ESP8266 ROM does not implement SPI_FLASH_MD5
}

var chipTable = []chipInfo{
	{
		kind:          ChipESP8266,
		magics:        []uint32{0xFFF0C101},
		hasStub:       false,
		beginTrailer:  false,
		hasBaudChange: false,
		hasMD5:        false,
	},
	{
		kind:          ChipESP32,
		magics:        []uint32{0x00F01D83},
		hasStub:       true,
		beginTrailer:  false,
		hasBaudChange: true,
		hasMD5:        true,
	},
	{
		kind:          ChipESP32S2,
		magics:        []uint32{0x000007C6},
		hasStub:       true,
		beginTrailer:  true,
		hasBaudChange: true,
		hasMD5:        true,
	},
	{
		kind:          ChipESP32S3,
		magics:        []uint32{0x00000009},
		hasStub:       true,
		beginTrailer:  true,
		hasBaudChange: true,
		hasMD5:        true,
	},
	{
		kind:          ChipESP32C2,
		magics:        []uint32{0x6F51306F},
		hasStub:       false,
		beginTrailer:  true,
		hasBaudChange: true,
		hasMD5:        true,
	},
	{
		kind:          ChipESP32C3,
		magics:        []uint32{0x6921506F, 0x1B31506F},
		hasStub:       true,
		beginTrailer:  true,
		hasBaudChange: true,
		hasMD5:        true,
	},
	{
		kind:          ChipESP32C6,
		magics:        []uint32{0x0DA1806F},
		hasStub:       true,
		beginTrailer:  true,
		hasBaudChange: true,
		hasMD5:        true,
	},
	{
		kind:          ChipESP32H2,
		magics:        []uint32{0xCA26CC22, 0xD7B73E80},
		hasStub:       true,
		beginTrailer:  true,
		hasBaudChange: true,
		hasMD5:        true,
	},
}

func lookupChip(kind ChipKind) (chipInfo, bool) {
	for _, c := range chipTable {
		if c.kind == kind {
			return c, true
		}
	}
	return chipInfo{}, false
}

// detectChipKind maps a magic value read from
// CHIP_DETECT_MAGIC_REG_ADDR to a ChipKind. Detection is total over
// the magic table and injective per chip kind: every table entry owns
// a disjoint set of magics.
func detectChipKind(magic uint32) (ChipKind, error) {
	for _, c := range chipTable {
		for _, m := range c.magics {
			if m == magic {
				return c.kind, nil
			}
		}
	}
	return ChipUnknown, errUnsupportedChip(magic)
}

// HasStub reports whether kind has an associated RAM stub blob.
func (c ChipKind) HasStub() bool {
	info, ok := lookupChip(c)
	return ok && info.hasStub
}

// beginTrailer reports whether FLASH_BEGIN/FLASH_DEFL_BEGIN carries a
// trailing 32-bit zero word for this chip.
func (c ChipKind) beginTrailer() bool {
	info, ok := lookupChip(c)
	return ok && info.beginTrailer
}

// supportsBaudChange reports whether CHANGE_BAUDRATE is meaningful for
// this chip; ESP8266 has none.
func (c ChipKind) supportsBaudChange() bool {
	info, ok := lookupChip(c)
	return ok && info.hasBaudChange
}

// supportsMD5 reports whether SPI_FLASH_MD5 is implemented in this
// chip's ROM; ESP8266 ROM does not implement it.
func (c ChipKind) supportsMD5() bool {
	info, ok := lookupChip(c)
	return ok && info.hasMD5
}
