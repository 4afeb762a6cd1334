// Package autostart installs the bridge as a systemd service.
package autostart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// DefaultUnitPath is where Enable writes the unit when no path is given
const DefaultUnitPath = "/etc/systemd/system/cecbridge.service"

// Options describes the service to install
type Options struct {
	// ExecutablePath is the binary to run, the current executable when empty
	ExecutablePath string

	// Args are passed to the binary
	Args []string

	// User runs the service as someone other than root. It needs access to
	// /dev/cec* and /dev/input/event*.
	User string
}

// unitOptions builds the unit file entries
func (o Options) unitOptions() ([]*unit.UnitOption, error) {
	exe := o.ExecutablePath
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	cmd := make([]string, 0, len(o.Args)+1)
	for _, a := range append([]string{exe}, o.Args...) {
		cmd = append(cmd, quoteArg(a))
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "IR remote and terminal to HDMI-CEC bridge"),
		unit.NewUnitOption("Unit", "After", "systemd-udevd.service"),
		unit.NewUnitOption("Unit", "Wants", "systemd-udevd.service"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", strings.Join(cmd, " ")),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
	}
	if o.User != "" {
		opts = append(opts,
			unit.NewUnitOption("Service", "User", o.User),
			unit.NewUnitOption("Service", "SupplementaryGroups", "input video"),
		)
	}
	opts = append(opts, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))
	return opts, nil
}

// Render writes the unit file contents to w
func Render(w io.Writer, o Options) error {
	opts, err := o.unitOptions()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, unit.Serialize(opts))
	return err
}

// Enable writes the unit to path. Run "systemctl daemon-reload" and "systemctl enable" afterwards.
func Enable(path string, o Options) error {
	if path == "" {
		path = DefaultUnitPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Render(f, o); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Disable removes the unit file
func Disable(path string) error {
	if path == "" {
		path = DefaultUnitPath
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsEnabled checks if the unit file exists
func IsEnabled(path string) bool {
	if path == "" {
		path = DefaultUnitPath
	}
	_, err := os.Stat(path)
	return err == nil
}

// quoteArg quotes an ExecStart argument the way systemd splits them
func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\$%") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `$$`, `%`, `%%`)
	return `"` + r.Replace(s) + `"`
}
