package cec

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameLen is the largest CEC frame: header, opcode and 14 operands.
const MaxFrameLen = 16

// Command is a single CEC frame. Build it with NewCommand; it is not modified afterwards.
type Command struct {
	Source      LogicalAddress
	Destination LogicalAddress
	Opcode      Opcode
	Params      []byte
}

// NewCommand builds a command, copying params so later changes by the caller are not observed
func NewCommand(src, dst LogicalAddress, op Opcode, params ...byte) Command {
	cmd := Command{Source: src, Destination: dst, Opcode: op}
	if len(params) > 0 {
		cmd.Params = append([]byte(nil), params...)
	}
	return cmd
}

// String encodes the command as a colon separated hex token, e.g. "10:44:41".
func (c Command) String() string {
	var b strings.Builder
	b.Grow(5 + 3*len(c.Params))
	fmt.Fprintf(&b, "%1x%1x:%02x", uint8(c.Source)&0xF, uint8(c.Destination)&0xF, uint8(c.Opcode))
	for _, p := range c.Params {
		fmt.Fprintf(&b, ":%02x", p)
	}
	return b.String()
}

// Bytes returns the frame as it goes on the wire
func (c Command) Bytes() []byte {
	frame := make([]byte, 0, 2+len(c.Params))
	frame = append(frame, uint8(c.Source&0xF)<<4|uint8(c.Destination&0xF), uint8(c.Opcode))
	return append(frame, c.Params...)
}

// Validate reports whether the command fits in a single frame
func (c Command) Validate() error {
	if 2+len(c.Params) > MaxFrameLen {
		return fmt.Errorf("%w: %d operands", ErrFrameTooLong, len(c.Params))
	}
	return nil
}

// ParseCommand decodes a token produced by Command.String.
func ParseCommand(token string) (Command, error) {
	fields := strings.Split(strings.TrimSpace(token), ":")
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("%w: %q needs a header and an opcode", ErrInvalidToken, token)
	}
	if len(fields) > MaxFrameLen {
		return Command{}, fmt.Errorf("%w: %q", ErrFrameTooLong, token)
	}

	raw := make([]byte, len(fields))
	for i, f := range fields {
		if len(f) != 2 {
			return Command{}, fmt.Errorf("%w: field %q is not two hex digits", ErrInvalidToken, f)
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return Command{}, fmt.Errorf("%w: field %q: %v", ErrInvalidToken, f, err)
		}
		raw[i] = byte(v)
	}

	return NewCommand(LogicalAddress(raw[0]>>4), LogicalAddress(raw[0]&0xF), Opcode(raw[1]), raw[2:]...), nil
}
