package serlink

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens a serial port in the line discipline both peers assume:
// 8 data bits, no parity, one stop bit. The returned port satisfies
// Transport natively - its reads honor SetReadTimeout and report expiry as
// (0, nil). Any stale input is flushed so the handshake starts clean.
func OpenSerial(portName string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush %s: %w", portName, err)
	}
	return port, nil
}

var _ Transport = (serial.Port)(nil)
