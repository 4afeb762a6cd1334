package cec

import (
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the severity an adapter attaches to its own log messages
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarning
	LogNotice
	LogDebug
	LogTraffic
)

// LogFunc receives adapter log messages
type LogFunc func(level LogLevel, ts time.Time, message string)

// AdapterInfo describes a detected adapter
type AdapterInfo struct {
	Path   string `json:"path"`
	Driver string `json:"driver,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Config is what we ask the adapter to announce on the bus
type Config struct {
	// DeviceName is the OSD name, at most 14 characters
	DeviceName string

	// DeviceType is the primary device type used to claim a logical address
	DeviceType DeviceType

	// ActivateSource makes the adapter become the active source after opening
	ActivateSource bool
}

// Configuration is the configuration read back from an open adapter
type Configuration struct {
	LogicalAddress  LogicalAddress
	PhysicalAddress uint16
	DeviceName      string
}

// Adapter defines the operations the bus adapter has to provide
type Adapter interface {
	// Detect lists the available adapters
	Detect() ([]AdapterInfo, error)

	// Open opens the adapter and claims a logical address
	Open(info AdapterInfo, cfg Config) error

	// Configuration reads back the current adapter configuration
	Configuration() (Configuration, error)

	// PhysicalAddress returns the physical address of a logical address
	PhysicalAddress(addr LogicalAddress) (uint16, error)

	// OSDName returns the OSD name of a logical address
	OSDName(addr LogicalAddress) (string, error)

	// Transmit sends one frame and reports whether it was acknowledged
	Transmit(cmd Command) error

	// PowerStatus asks an endpoint for its power status
	PowerStatus(own, addr LogicalAddress) (PowerStatus, error)

	// SetLogCallback installs the log callback
	SetLogCallback(fn LogFunc)

	Close() error
}

// Level maps an adapter severity onto a zerolog level. Debug and traffic both become debug.
func (l LogLevel) Level() zerolog.Level {
	switch l {
	case LogError:
		return zerolog.ErrorLevel
	case LogWarning:
		return zerolog.WarnLevel
	case LogNotice:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogNotice:
		return "notice"
	case LogDebug:
		return "debug"
	case LogTraffic:
		return "traffic"
	}
	return "unknown"
}

// bridgeLog returns a LogFunc that forwards adapter messages to logger.
// The adapter timestamp is ignored, records carry the time of receipt.
func bridgeLog(logger zerolog.Logger) LogFunc {
	return func(level LogLevel, _ time.Time, message string) {
		logger.WithLevel(level.Level()).Msgf("CEC(%s): %s", level, message)
	}
}
