package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ListPorts returns the names of serial ports visible to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// SerialTransport implements Transport on top of go.bug.st/serial.
type SerialTransport struct {
	portName string
	port     serial.Port
}

// Open opens portName at baud 8N1, matching the mode every ESP ROM
// bootloader expects.
func Open(portName string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open port %s: %w", portName, err)
	}
	return &SerialTransport{portName: portName, port: port}, nil
}

func (t *SerialTransport) Flush() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return err
	}
	return t.port.ResetOutputBuffer()
}

func (t *SerialTransport) Read(buf []byte) (int, error) {
	return t.port.Read(buf)
}

func (t *SerialTransport) Write(buf []byte) (int, error) {
	return t.port.Write(buf)
}

func (t *SerialTransport) SetControlLines(dtr, rts bool) error {
	if err := t.port.SetDTR(dtr); err != nil {
		return err
	}
	return t.port.SetRTS(rts)
}

func (t *SerialTransport) SetReadTimeout(d time.Duration) error {
	return t.port.SetReadTimeout(d)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

// Rebaud closes and reopens the underlying port at a new baud rate.
// The ESP ROM/stub must have already acknowledged the change-baud
// command before this is called — the driver, not the transport,
// owns that sequencing.
func (t *SerialTransport) Rebaud(baud int) error {
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("transport: failed to close port before rebaud: %w", err)
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.portName, mode)
	if err != nil {
		return fmt.Errorf("transport: failed to reopen port %s at %d baud: %w", t.portName, baud, err)
	}
	t.port = port
	return nil
}
