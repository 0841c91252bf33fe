package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goburrow/serial"
	"go.bug.st/serial/enumerator"

	"example.com/bolt/internal/common"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 200 * time.Millisecond
)

var (
	// ErrTimeout is returned by Port.Read when no bytes arrived in time.
	ErrTimeout = errors.New("transport: read timeout")
	ErrNoPort  = errors.New("transport: no port selected")
)

// Port is an open byte stream. Read must return within the configured
// timeout, either with data, with 0 bytes, or with ErrTimeout.
type Port interface {
	io.ReadCloser
}

type Config struct {
	Address     string
	BaudRate    int
	ReadTimeout time.Duration
}

// Opener opens ports; it is the seam between the pipeline and real hardware.
type Opener interface {
	Open(cfg Config) (Port, error)
}

// PortInfo describes a connectable endpoint.
type PortInfo struct {
	Device      string `json:"device"`
	Description string `json:"description"`
}

// IsTimeout reports whether err only signals an empty read.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, serial.ErrTimeout) || os.IsTimeout(err)
}

// SerialOpener opens serial devices through goburrow/serial with 8N1 framing.
type SerialOpener struct{}

func (SerialOpener) Open(cfg Config) (Port, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrNoPort
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// enumeratePorts is replaced in tests.
var enumeratePorts = enumerator.GetDetailedPortsList

// EnumeratePorts returns the serial ports the operating system reports,
// sorted by device name.
func EnumeratePorts() ([]PortInfo, error) {
	details, err := enumeratePorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		out = append(out, PortInfo{Device: d.Name, Description: describe(d)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out, nil
}

// ListPorts is EnumeratePorts with failures logged and reported as no ports.
func ListPorts() []PortInfo {
	ports, err := EnumeratePorts()
	if err != nil {
		common.Logf("serial: %v", err)
		return nil
	}
	return ports
}

// describe prefers the USB product string, then VID:PID, then the device name.
func describe(d *enumerator.PortDetails) string {
	if product := strings.TrimSpace(d.Product); product != "" {
		return product
	}
	if d.IsUSB && d.VID != "" {
		desc := fmt.Sprintf("USB %s:%s", strings.ToUpper(d.VID), strings.ToUpper(d.PID))
		if d.SerialNumber != "" {
			desc += " (" + d.SerialNumber + ")"
		}
		return desc
	}
	return filepath.Base(d.Name)
}
