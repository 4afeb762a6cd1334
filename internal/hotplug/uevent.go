// Package hotplug reports evdev nodes that are present at startup and every node that
// appears afterwards.
package hotplug

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ActionAdd is the uevent action for a new device
const ActionAdd = "add"

const (
	inputSubsystem = "input"
	inputDir       = "/dev/input"
)

// Uevent is a device event as sent by the kernel or udevd
type Uevent struct {
	Action    string
	DevPath   string
	Subsystem string
	// DevName is the node, absolute from udevd and relative to /dev from the kernel
	DevName string
	Env     map[string]string
}

// libudev frames start with this prefix, followed by the magic in network byte order
var udevPrefix = []byte("libudev\x00")

const (
	udevMagic        = 0xfeedcafe
	udevHeaderMinLen = 24
)

// ParseUevent decodes a netlink datagram in either the libudev or the kernel format.
func ParseUevent(buf []byte) (Uevent, error) {
	if bytes.HasPrefix(buf, udevPrefix) {
		return parseUdev(buf)
	}
	return parseKernel(buf)
}

func parseUdev(buf []byte) (Uevent, error) {
	if len(buf) < udevHeaderMinLen {
		return Uevent{}, fmt.Errorf("%w: short libudev header (%d bytes)", ErrMalformedUevent, len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[8:12]); magic != udevMagic {
		return Uevent{}, fmt.Errorf("%w: bad libudev magic %#x", ErrMalformedUevent, magic)
	}

	off := binary.NativeEndian.Uint32(buf[16:20])
	n := binary.NativeEndian.Uint32(buf[20:24])
	if uint64(off)+uint64(n) > uint64(len(buf)) {
		return Uevent{}, fmt.Errorf("%w: properties at %d+%d exceed %d bytes", ErrMalformedUevent, off, n, len(buf))
	}

	u := Uevent{Env: parseEnv(buf[off : off+n])}
	u.fill()
	if u.Action == "" {
		return Uevent{}, fmt.Errorf("%w: no ACTION", ErrMalformedUevent)
	}
	return u, nil
}

// Kernel uevents are "action@devpath\0KEY=VALUE\0...".
func parseKernel(buf []byte) (Uevent, error) {
	header, rest, _ := bytes.Cut(buf, []byte{0})
	action, devpath, ok := strings.Cut(string(header), "@")
	if !ok || action == "" {
		return Uevent{}, fmt.Errorf("%w: header %q", ErrMalformedUevent, header)
	}

	u := Uevent{Action: action, DevPath: devpath, Env: parseEnv(rest)}
	u.fill()
	return u, nil
}

func parseEnv(buf []byte) map[string]string {
	env := make(map[string]string)
	for _, field := range bytes.Split(buf, []byte{0}) {
		if k, v, ok := strings.Cut(string(field), "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

func (u *Uevent) fill() {
	if v, ok := u.Env["ACTION"]; ok {
		u.Action = v
	}
	if v, ok := u.Env["DEVPATH"]; ok {
		u.DevPath = v
	}
	u.Subsystem = u.Env["SUBSYSTEM"]
	u.DevName = u.Env["DEVNAME"]
}

// Node returns the absolute device node of u, or "" when it has none
func (u Uevent) Node() string {
	switch {
	case u.DevName == "":
		return ""
	case path.IsAbs(u.DevName):
		return path.Clean(u.DevName)
	default:
		return path.Join("/dev", u.DevName)
	}
}

// Accept returns the evdev node announced by u when u is the arrival of one
func Accept(u Uevent) (string, bool) {
	if u.Action != ActionAdd || u.Subsystem != inputSubsystem {
		return "", false
	}
	node := u.Node()
	if !IsEventNode(node) {
		return "", false
	}
	return node, true
}

// IsEventNode reports whether p is /dev/input/eventN
func IsEventNode(p string) bool {
	dir, file := path.Split(p)
	if path.Clean(dir) != inputDir {
		return false
	}
	num, ok := strings.CutPrefix(file, "event")
	if !ok || num == "" {
		return false
	}
	_, err := strconv.ParseUint(num, 10, 32)
	return err == nil
}
