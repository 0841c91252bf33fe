package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/history"
)

// PointWriter is the subset of the InfluxDB write API the sink needs.
type PointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Influx exports the numeric signals of every decoded frame as one point:
// tags id and message, one field per signal.
type Influx struct {
	Measurement string
	Writer      PointWriter
	Now         func() time.Time

	client influxdb2.Client
}

type Options struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	Measurement   string
	FlushInterval time.Duration
}

// NewInflux connects to InfluxDB. An unreachable server is logged, not
// fatal; the write API keeps retrying in the background.
func NewInflux(ctx context.Context, opts Options) (*Influx, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("influx: url is empty")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("influx: bucket is empty")
	}
	clientOpts := influxdb2.DefaultOptions()
	if opts.FlushInterval > 0 {
		clientOpts.SetFlushInterval(uint(opts.FlushInterval / time.Millisecond))
	}
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token, clientOpts)
	if ok, err := client.Ping(ctx); err != nil || !ok {
		common.Logf("influx: %s not reachable: %v", opts.URL, err)
	}
	writeAPI := client.WriteAPI(opts.Org, opts.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			common.Logf("influx: write: %v", err)
		}
	}()
	return &Influx{
		Measurement: opts.Measurement,
		Writer:      writeAPI,
		client:      client,
	}, nil
}

// WriteFrame queues a point for f; frames without numeric signals are
// skipped. The write API batches, so this never blocks the consumer.
func (s *Influx) WriteFrame(f *history.Frame) {
	p, ok := s.point(f)
	if !ok {
		return
	}
	s.Writer.WritePoint(p)
}

func (s *Influx) point(f *history.Frame) (*write.Point, bool) {
	fields := make(map[string]any)
	for _, sig := range f.Signals {
		if sig.Numeric {
			fields[sig.Name] = sig.Physical
		}
	}
	if len(fields) == 0 {
		return nil, false
	}
	tags := map[string]string{"id": f.IDHex()}
	if f.MessageName != "" {
		tags["message"] = f.MessageName
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	measurement := s.Measurement
	if measurement == "" {
		measurement = "can"
	}
	return influxdb2.NewPoint(measurement, tags, fields, now()), true
}

// Close flushes pending points and closes the client.
func (s *Influx) Close() error {
	s.Writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
