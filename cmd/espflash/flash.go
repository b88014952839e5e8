package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sxwebdev/espflash/internal/espflash"
	"github.com/sxwebdev/espflash/internal/transport"
)

var (
	flashPort        string
	flashInitialBaud int
	flashTargetBaud  int
	flashSize        int64
	flashCompress    bool
	flashNoStub      bool
)

func init() {
	flashCmd.Flags().StringVar(&flashPort, "port", "", "serial port the target is attached to (required)")
	flashCmd.Flags().IntVar(&flashInitialBaud, "baud", 115200, "initial baud rate the ROM bootloader starts at")
	flashCmd.Flags().IntVar(&flashTargetBaud, "change-baud", 0, "baud rate to switch to after sync (0 keeps --baud)")
	flashCmd.Flags().Int64Var(&flashSize, "flash-size", espflash.DefaultFlashSize, "flash capacity in bytes reported to SPI_SET_PARAMS")
	flashCmd.Flags().BoolVar(&flashCompress, "compress", true, "send images through the FLASH_DEFL_* deflate path")
	flashCmd.Flags().BoolVar(&flashNoStub, "no-stub", false, "stay in ROM mode even for chips with an available RAM stub")
	_ = flashCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(flashCmd)
}

var flashCmd = &cobra.Command{
	Use:   "flash FILE:OFFSET [FILE:OFFSET...]",
	Short: "Write one or more firmware images to flash",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFlash,
}

func runFlash(cmd *cobra.Command, args []string) error {
	images, err := loadImages(args)
	if err != nil {
		return err
	}

	tr, err := transport.Open(flashPort, flashInitialBaud)
	if err != nil {
		return fmt.Errorf("open %s: %w", flashPort, err)
	}
	defer tr.Close()

	var stubs espflash.StubProvider = espflash.NoStubs{}
	if !flashNoStub {
		stubs = newEmbeddedStubs()
	}

	obs := newBarObserver()
	orch := espflash.NewOrchestrator(tr, stubs, espflash.Config{
		InitialBaud: flashInitialBaud,
		FlashSize:   uint32(flashSize),
		Observer:    obs,
	})
	defer orch.Close()

	if err := orch.EnterBootloader(); err != nil {
		return fmt.Errorf("enter bootloader: %w", err)
	}
	if !orch.Sync() {
		return fmt.Errorf("no response from chip on %s", flashPort)
	}
	kind, err := orch.DetectChip()
	if err != nil {
		return fmt.Errorf("detect chip: %w", err)
	}
	obs.OnLog(fmt.Sprintf("connected to %s", kind))

	if ok, err := orch.LoadStub(); err != nil {
		obs.OnLog(fmt.Sprintf("stub load failed, continuing in ROM mode: %v", err))
	} else if ok {
		obs.OnLog("ready")
	}

	if err := orch.Init(); err != nil {
		return fmt.Errorf("init flash session: %w", err)
	}

	if flashTargetBaud != 0 && flashTargetBaud != flashInitialBaud {
		if err := orch.ChangeBaudRate(flashTargetBaud); err != nil {
			return fmt.Errorf("change baud rate: %w", err)
		}
	}

	for i := range images {
		images[i].Compressed = flashCompress
	}
	if err := orch.FlashImages(images); err != nil {
		return fmt.Errorf("flash: %w", err)
	}

	if err := orch.FlashFinish(); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	if err := orch.Reset(); err != nil {
		return fmt.Errorf("reset target: %w", err)
	}

	obs.OnLog("done")
	return nil
}

// loadImages parses "path:offset" arguments and reads each firmware
// file into memory.
func loadImages(args []string) ([]espflash.Image, error) {
	images := make([]espflash.Image, 0, len(args))
	for _, arg := range args {
		path, offsetStr, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("invalid image argument %q, expected FILE:OFFSET", arg)
		}
		offset, err := parseOffset(offsetStr)
		if err != nil {
			return nil, fmt.Errorf("invalid offset in %q: %w", arg, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		images = append(images, espflash.Image{Data: data, Offset: offset})
	}
	return images, nil
}

func parseOffset(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
