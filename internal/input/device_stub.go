//go:build !linux

package input

import "errors"

var errUnsupported = errors.New("evdev input is only supported on linux")

// Open is not supported on this platform
func Open(path string) (Device, error) {
	return nil, errUnsupported
}

// ListPaths is not supported on this platform
func ListPaths() ([]string, error) {
	return nil, errUnsupported
}
