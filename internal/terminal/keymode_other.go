//go:build !linux

package terminal

import "golang.org/x/term"

// keyMode falls back to raw mode where the termios ioctls differ
func keyMode(fd int) (func() error, error) {
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, saved) }, nil
}
