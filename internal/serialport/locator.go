package serialport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/banshee-data/hostlink/internal/monitoring"
)

// ErrDeviceNotFound means no enumerated port carries the wanted serial number.
var ErrDeviceNotFound = errors.New("device not found")

// Enumerator lists candidate ports with their USB metadata.
type Enumerator func() ([]*enumerator.PortDetails, error)

// Locator finds the peripheral among the host's serial ports.
type Locator struct {
	Enumerate Enumerator
}

// NewLocator returns a Locator backed by the OS port enumerator.
func NewLocator() *Locator {
	return &Locator{Enumerate: enumerator.GetDetailedPortsList}
}

// List returns every candidate port.
func (l *Locator) List() ([]*enumerator.PortDetails, error) {
	ports, err := l.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Find returns the device path of the first port whose USB serial number
// equals serialNumber (case-insensitive).
func (l *Locator) Find(serialNumber string) (string, error) {
	ports, err := l.List()
	if err != nil {
		return "", err
	}

	for _, port := range ports {
		monitoring.Logf("checking %s (serial=%q usb=%v)", port.Name, port.SerialNumber, port.IsUSB)
		if port.SerialNumber != "" && strings.EqualFold(port.SerialNumber, serialNumber) {
			monitoring.Logf("found device %s", port.Name)
			return port.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no port with serial number %s among %d candidates", ErrDeviceNotFound, serialNumber, len(ports))
}

// Describe formats a port for the -list output.
func Describe(port *enumerator.PortDetails) string {
	if !port.IsUSB {
		return port.Name
	}
	desc := fmt.Sprintf("%s usb=%s:%s serial=%s", port.Name, port.VID, port.PID, port.SerialNumber)
	if port.Product != "" {
		desc += fmt.Sprintf(" product=%q", port.Product)
	}
	return desc
}
