package terminal

import (
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// keyMode clears ICANON and ECHO only. Unlike term.MakeRaw this keeps ICRNL, so
// Enter still reads as "\n", and ISIG, so Ctrl-C still interrupts.
func keyMode(fd int) (func() error, error) {
	saved, err := term.GetState(fd)
	if err != nil {
		return nil, err
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	tio.Lflag &^= unix.ICANON | unix.ECHO
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0
	// TCSETSW drains pending output first, like TCSADRAIN.
	if err := unix.IoctlSetTermios(fd, unix.TCSETSW, tio); err != nil {
		return nil, err
	}

	return func() error { return term.Restore(fd, saved) }, nil
}
