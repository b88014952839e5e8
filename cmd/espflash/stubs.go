package main

import (
	"embed"
	"encoding/base64"
	"encoding/json"

	"github.com/sxwebdev/espflash/internal/espflash"
)

//go:embed stubdata/*.json
var stubFixtures embed.FS

// stubDescriptor is the on-disk shape of a stub fixture: a small JSON
// document with base64 text/data blobs, one file per chip.
type stubDescriptor struct {
	Entry     uint32 `json:"entry"`
	TextStart uint32 `json:"text_start"`
	Text      string `json:"text"`
	DataStart uint32 `json:"data_start"`
	Data      string `json:"data"`
}

// embeddedStubs implements espflash.StubProvider over the fixtures
// under stubdata/, keyed by chip kind. These are placeholder payloads
// sized to exercise the stub-mode upload and transfer-block-size path
// end to end; they are not a substitute for a real RAM stub binary.
type embeddedStubs struct {
	files map[espflash.ChipKind]string
}

func newEmbeddedStubs() embeddedStubs {
	return embeddedStubs{
		files: map[espflash.ChipKind]string{
			espflash.ChipESP32: "stubdata/esp32.json",
		},
	}
}

func (e embeddedStubs) StubFor(kind espflash.ChipKind) (espflash.Stub, bool) {
	name, ok := e.files[kind]
	if !ok {
		return espflash.Stub{}, false
	}
	raw, err := stubFixtures.ReadFile(name)
	if err != nil {
		return espflash.Stub{}, false
	}
	var desc stubDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return espflash.Stub{}, false
	}
	text, err := base64.StdEncoding.DecodeString(desc.Text)
	if err != nil {
		return espflash.Stub{}, false
	}
	data, err := base64.StdEncoding.DecodeString(desc.Data)
	if err != nil {
		return espflash.Stub{}, false
	}
	return espflash.Stub{
		Entry:     desc.Entry,
		TextStart: desc.TextStart,
		Text:      text,
		DataStart: desc.DataStart,
		Data:      data,
	}, true
}
