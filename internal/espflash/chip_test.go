package espflash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectChipKindCoversEveryTableEntry(t *testing.T) {
	for _, info := range chipTable {
		for _, magic := range info.magics {
			kind, err := detectChipKind(magic)
			require.NoError(t, err)
			assert.Equal(t, info.kind, kind)
		}
	}
}

func TestDetectChipKindUnknownMagic(t *testing.T) {
	_, err := detectChipKind(0xDEADBEEF)
	require.Error(t, err)
	var espErr *Error
	require.ErrorAs(t, err, &espErr)
	assert.Equal(t, KindUnsupportedChip, espErr.Kind)
	assert.Equal(t, uint32(0xDEADBEEF), espErr.Magic)
}

func TestChipTableMagicsAreDisjoint(t *testing.T) {
	seen := map[uint32]ChipKind{}
	for _, info := range chipTable {
		for _, magic := range info.magics {
			if owner, ok := seen[magic]; ok {
				t.Fatalf("magic 0x%08x claimed by both %s and %s", magic, owner, info.kind)
			}
			seen[magic] = info.kind
		}
	}
}

func TestESP8266HasNoStubBaudChangeOrMD5(t *testing.T) {
	assert.False(t, ChipESP8266.HasStub())
	assert.False(t, ChipESP8266.supportsBaudChange())
	assert.False(t, ChipESP8266.supportsMD5())
	assert.False(t, ChipESP8266.beginTrailer())
}

func TestESP32HasNoBeginTrailerButHasStub(t *testing.T) {
	assert.True(t, ChipESP32.HasStub())
	assert.False(t, ChipESP32.beginTrailer())
	assert.True(t, ChipESP32.supportsMD5())
}

func TestLaterChipsCarryBeginTrailer(t *testing.T) {
	for _, kind := range []ChipKind{ChipESP32S2, ChipESP32S3, ChipESP32C2, ChipESP32C3, ChipESP32C6, ChipESP32H2} {
		assert.True(t, kind.beginTrailer(), "%s should carry the FLASH_BEGIN trailer word", kind)
	}
}
