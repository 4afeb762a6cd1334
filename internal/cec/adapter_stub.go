//go:build !linux

package cec

// NewAdapter returns the adapter for this platform
func NewAdapter() (Adapter, error) {
	return nil, ErrUnsupportedPlatform
}
