package plc

import (
	"time"

	"github.com/iceisfun/goeip/internal"
)

// DefaultPort is the standard EtherNet/IP TCP port (0xAF12).
const DefaultPort = 44818

// DefaultConnectionSize is the byte budget used by a standard Forward
// Open when the caller does not request large packets.
const DefaultConnectionSize = 500

// LargeConnectionSize is the byte budget used by a Large Forward Open.
const LargeConnectionSize = 4000

// DefaultRPI is the requested packet interval used when the caller does
// not set one explicitly.
const DefaultRPI = 1 * time.Second

// Options configures a Connection. Build one with NewOptions and the
// With* functions, or set fields directly.
type Options struct {
	IPAddress string
	Port      int

	Slot             int
	LargePackets     bool
	DirectConnection bool

	InitInfo         bool
	InitTags         bool
	InitProgramTags  bool

	Timeout time.Duration
	RPI     time.Duration

	Logger internal.Logger
}

// Option mutates an Options value.
type Option func(*Options)

// NewOptions builds an Options for ipAddress with the package defaults
// (slot 0, standard packet size, 5s timeout, 1s RPI) and applies opts.
func NewOptions(ipAddress string, opts ...Option) Options {
	o := Options{
		IPAddress: ipAddress,
		Port:      DefaultPort,
		Timeout:   5 * time.Second,
		RPI:       DefaultRPI,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSlot sets the CPU backplane slot (default 0).
func WithSlot(slot int) Option {
	return func(o *Options) { o.Slot = slot }
}

// WithPort overrides the TCP port (default 44818).
func WithPort(port int) Option {
	return func(o *Options) { o.Port = port }
}

// WithLargePackets enables Large Forward Open and the 4000-byte
// connection size.
func WithLargePackets(enabled bool) Option {
	return func(o *Options) { o.LargePackets = enabled }
}

// WithDirectConnection targets the message router directly, bypassing
// backplane routing (connection path with no port/slot segment).
func WithDirectConnection(enabled bool) Option {
	return func(o *Options) { o.DirectConnection = enabled }
}

// WithInitInfo reads controller identity as part of Open.
func WithInitInfo(enabled bool) Option {
	return func(o *Options) { o.InitInfo = enabled }
}

// WithInitTags scans the controller-scoped tag list as part of Open.
func WithInitTags(enabled bool) Option {
	return func(o *Options) { o.InitTags = enabled }
}

// WithInitProgramTags also scans each program's tags as part of Open;
// implies InitTags.
func WithInitProgramTags(enabled bool) Option {
	return func(o *Options) {
		o.InitProgramTags = enabled
		if enabled {
			o.InitTags = true
		}
	}
}

// WithTimeout sets the per-request socket timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRPI sets the requested packet interval used by Forward Open.
func WithRPI(d time.Duration) Option {
	return func(o *Options) { o.RPI = d }
}

// WithLogger attaches a logger; nil is replaced with a no-op logger.
func WithLogger(l internal.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func (o Options) connectionSize() int {
	if o.LargePackets {
		return LargeConnectionSize
	}
	return DefaultConnectionSize
}
