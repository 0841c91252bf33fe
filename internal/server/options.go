package server

import (
	"time"

	"example.com/bolt/internal/transport"
)

const (
	// DefaultFrameLimit bounds /api/frames when no limit is given.
	DefaultFrameLimit = 200
	DefaultTopN       = 12

	// MaxDictionaryUpload bounds one multipart DBC upload.
	MaxDictionaryUpload = 32 << 20
)

// Options configures server creation.
type Options struct {
	Title string

	// DefaultBaud is prefilled in the UI. Connect requests without a baud
	// rate use transport.DefaultBaudRate.
	DefaultBaud       int
	TopN              int
	SerialReadTimeout time.Duration

	// ListPorts enumerates serial devices; nil selects transport.ListPorts.
	ListPorts func() []transport.PortInfo
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "Bolt CAN Monitor"
	}
	if o.DefaultBaud <= 0 {
		o.DefaultBaud = 921600
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.ListPorts == nil {
		o.ListPorts = transport.ListPorts
	}
	return o
}
