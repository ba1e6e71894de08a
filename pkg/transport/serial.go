package transport

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the part of serial.Port the transport needs.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

var _ Port = (serial.Port)(nil)

// OpenSerial opens a CAT port. Kenwood radios use 8 data bits, no parity and
// two stop bits at 4800 baud and one stop bit above.
func OpenSerial(name string, baudrate int) (serial.Port, error) {
	if runtime.GOOS == "windows" {
		name = strings.ToUpper(name)
	}
	stop := serial.OneStopBit
	if baudrate <= 4800 {
		stop = serial.TwoStopBits
	}
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: stop,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %v", name, err)
	}
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	return p, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, errors.New("no serial ports found")
	}
	return ports, nil
}

// PortInfo describes one port the way the CLI prints it.
func PortInfo(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.SerialNumber)
}
