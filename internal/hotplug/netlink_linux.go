package hotplug

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Netlink multicast groups for NETLINK_KOBJECT_UEVENT
const (
	KernelGroup uint32 = 1
	UdevGroup   uint32 = 2
)

const recvBufSize = 1 << 20

// NetlinkListener receives uevents from a NETLINK_KOBJECT_UEVENT socket.
// UdevGroup sees nodes only after udevd has created them and applied permissions.
type NetlinkListener struct {
	group uint32
	log   zerolog.Logger

	fd    int
	wakeR int
	wakeW int
}

// NewNetlinkListener creates a listener on the given multicast group
func NewNetlinkListener(group uint32, logger zerolog.Logger) *NetlinkListener {
	return &NetlinkListener{group: group, log: logger, fd: -1, wakeR: -1, wakeW: -1}
}

// Open creates and binds the socket
func (l *NetlinkListener) Open() error {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return fmt.Errorf("netlink socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: l.group}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netlink bind group %d: %w", l.group, err)
	}
	// Bursts at boot can be large. Best effort, the default still works.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufSize); err != nil {
		l.log.Debug().Err(err).Msg("HOTPLUG: Could not grow receive buffer")
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return fmt.Errorf("wake pipe: %w", err)
	}

	l.fd, l.wakeR, l.wakeW = fd, p[0], p[1]
	return nil
}

// Run blocks in poll(2) until the socket is readable, then drains every queued datagram.
func (l *NetlinkListener) Run(ctx context.Context, events chan<- Uevent) error {
	if l.fd < 0 {
		return fmt.Errorf("netlink listener: %w", unix.EBADF)
	}

	stop := context.AfterFunc(ctx, func() {
		unix.Write(l.wakeW, []byte{0})
	})
	defer stop()

	buf := make([]byte, 64*1024)
	fds := []unix.PollFd{
		{Fd: int32(l.fd), Events: unix.POLLIN},
		{Fd: int32(l.wakeR), Events: unix.POLLIN},
	}

	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll netlink socket: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return fmt.Errorf("netlink socket: revents %#x", fds[0].Revents)
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		if err := l.drain(ctx, buf, events); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (l *NetlinkListener) drain(ctx context.Context, buf []byte, events chan<- Uevent) error {
	for {
		n, from, err := unix.Recvfrom(l.fd, buf, unix.MSG_DONTWAIT)
		switch {
		case errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOBUFS):
			l.log.Warn().Msg("HOTPLUG: Netlink receive buffer overflowed, events were dropped")
			continue
		case err != nil:
			return fmt.Errorf("netlink recv: %w", err)
		}

		// Only the kernel (pid 0) sends on the kernel group.
		if sa, ok := from.(*unix.SockaddrNetlink); ok && l.group == KernelGroup && sa.Pid != 0 {
			continue
		}

		u, err := ParseUevent(buf[:n])
		if err != nil {
			l.log.Debug().Err(err).Msg("HOTPLUG: Ignoring datagram")
			continue
		}

		select {
		case events <- u:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the socket and the wake pipe
func (l *NetlinkListener) Close() error {
	var err error
	for _, fd := range []*int{&l.fd, &l.wakeR, &l.wakeW} {
		if *fd < 0 {
			continue
		}
		if cerr := unix.Close(*fd); cerr != nil && err == nil {
			err = cerr
		}
		*fd = -1
	}
	return err
}
