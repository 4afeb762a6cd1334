package keybind

import "errors"

var (
	// ErrIncomplete is returned by a binding when not every frame it sent was acknowledged
	ErrIncomplete = errors.New("not every frame was acknowledged")

	// ErrKeymap is returned for keymap files that cannot be used
	ErrKeymap = errors.New("invalid keymap")
)
