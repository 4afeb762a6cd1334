//go:build !linux

package hotplug

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

const (
	KernelGroup uint32 = 1
	UdevGroup   uint32 = 2
)

var errNetlinkUnsupported = errors.New("netlink uevents are only available on linux")

// NetlinkListener is unavailable on this platform
type NetlinkListener struct{}

func NewNetlinkListener(group uint32, logger zerolog.Logger) *NetlinkListener {
	return &NetlinkListener{}
}

func (l *NetlinkListener) Open() error { return errNetlinkUnsupported }

func (l *NetlinkListener) Run(ctx context.Context, events chan<- Uevent) error {
	return errNetlinkUnsupported
}

func (l *NetlinkListener) Close() error { return nil }
