// cecbridge - IR remote and terminal to HDMI-CEC bridge
// Turns remote-control key events into CEC commands for the TV, fixing up the
// controls the TV does not implement the standard way.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cecbridge/internal/api"
	"cecbridge/internal/autostart"
	"cecbridge/internal/cec"
	"cecbridge/internal/config"
	"cecbridge/internal/hotplug"
	"cecbridge/internal/input"
	"cecbridge/internal/keybind"
	"cecbridge/internal/logging"
	"cecbridge/internal/service"
	"cecbridge/internal/terminal"
	"cecbridge/internal/tv"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

var (
	version     = "0.1.0"
	useEvdev    = flag.Bool("evdev", true, "Read keys from evdev input devices")
	useStdin    = flag.Bool("stdin", false, "Read keys from the terminal (for debugging)")
	debug       = flag.Bool("debug", false, "Log debug messages")
	configPath  = flag.String("config", config.DefaultPath, "Configuration file")
	keymapPath  = flag.String("keymap", "", "ir-keytable keymap mapping CEC scancodes to key names")
	hotplugSrc  = flag.String("hotplug", "", "Device hotplug source: netlink or inotify")
	listen      = flag.String("listen", "", "Serve the remote-control API on this address")
	sendToken   = flag.String("send", "", "Send one raw command (e.g. 30:44:41) and exit")
	installUnit = flag.String("install-unit", "", "Write a systemd unit to this path and exit")
	removeUnit  = flag.String("uninstall-unit", "", "Remove the systemd unit at this path and exit")
	showVer     = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("cecbridge version %s\n", version)
		return
	}

	cfgMgr := config.NewManager(*configPath)
	if err := cfgMgr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfgMgr.Set(applyFlags(cfgMgr.Get())); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(2)
	}
	cfg := cfgMgr.Get()

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Debug: *debug, Journal: cfg.Log.Journal})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	// Handle --install-unit flag
	if *installUnit != "" {
		handleInstallUnit(logger, *installUnit)
		return
	}
	if *removeUnit != "" {
		handleUninstallUnit(logger, *removeUnit)
		return
	}

	os.Exit(runBridge(cfg, logger))
}

// applyFlags overrides configuration values with the flags given on the command line
func applyFlags(cfg *config.Config) *config.Config {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "evdev":
			cfg.Input.Evdev = *useEvdev
		case "stdin":
			cfg.Input.Stdin = *useStdin
		case "keymap":
			cfg.Input.Keymap = *keymapPath
		case "hotplug":
			cfg.Input.Hotplug = *hotplugSrc
		case "listen":
			cfg.API.Listen = *listen
		}
	})
	return cfg
}

func handleInstallUnit(logger zerolog.Logger, path string) {
	// Forward everything except the install flag itself
	var args []string
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "install-unit" && f.Name != "uninstall-unit" && f.Name != "send" && f.Name != "version" {
			args = append(args, fmt.Sprintf("-%s=%s", f.Name, f.Value))
		}
	})

	if err := autostart.Enable(path, autostart.Options{Args: args}); err != nil {
		logger.Fatal().Err(err).Msgf("Failed to write unit %s", path)
	}
	logger.Info().Msgf("Wrote %s, run: systemctl daemon-reload && systemctl enable --now %s", path, filepath.Base(path))
}

func handleUninstallUnit(logger zerolog.Logger, path string) {
	if !autostart.IsEnabled(path) {
		logger.Info().Msgf("No unit at %s", path)
		return
	}
	unit := filepath.Base(path)
	logger.Info().Msgf("Removing %s, stop it first with: systemctl disable --now %s", path, unit)
	if err := autostart.Disable(path); err != nil {
		logger.Fatal().Err(err).Msgf("Failed to remove unit %s", path)
	}
	logger.Info().Msgf("Removed %s, run: systemctl daemon-reload", path)
}

func runBridge(cfg *config.Config, logger zerolog.Logger) int {
	name := cfg.CEC.DeviceName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read hostname")
			return 1
		}
		name = host
	}
	devType, err := cec.ParseDeviceType(cfg.CEC.DeviceType)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid device type")
		return 1
	}

	adapter, err := cec.NewAdapter()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create CEC adapter")
		return 1
	}
	tx, err := cec.Open(adapter, cec.Config{
		DeviceName:     name,
		DeviceType:     devType,
		ActivateSource: cfg.CEC.ActivateSource,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open CEC adapter")
		return 1
	}
	defer tx.Close()

	// Handle --send flag
	if *sendToken != "" {
		return handleSend(tx, logger, *sendToken)
	}

	tvDev := tv.New(tx, cec.AddrTV, tv.WithHoldDelay(cfg.CEC.HoldDelay), tv.WithLogger(logger))
	runner := keybind.NewRunner(logger)

	km, err := keybind.LoadKeymap(cfg.Input.Keymap)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load keymap")
		return 1
	}
	table := keybind.NewDeviceTable(km, tvDev)
	logger.Info().Msgf("EVDEV: %d keys bound from %s (%s)", table.Len(), cfg.Input.Keymap, km.Name)

	opts := service.Options{
		Open:        input.Open,
		Table:       table,
		Runner:      runner,
		ExcludePhys: cfg.Input.ExcludePhys,
		Logger:      logger,
		Ready: func() {
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Debug().Err(err).Msg("sd_notify failed")
			}
			logger.Info().Msg("cecbridge running. Press Ctrl+C to stop.")
		},
	}

	if cfg.Input.Evdev {
		var listener hotplug.Listener
		switch cfg.Input.Hotplug {
		case config.HotplugInotify:
			listener = hotplug.NewInotifyListener(hotplug.DefaultInputDir)
		default:
			listener = hotplug.NewNetlinkListener(hotplug.UdevGroup, logger)
		}
		opts.Monitor = hotplug.NewMonitor(listener, input.ListPaths, logger)
	}

	if cfg.Input.Stdin {
		opts.Terminal = terminal.New(os.Stdin, keybind.NewTerminalTable(tvDev), runner, logger)
	}

	if cfg.API.Listen != "" {
		apiServer := api.NewServer(tvDev, table, runner, api.Info{
			OwnAddress:      tx.OwnAddress(),
			PhysicalAddress: tx.PhysicalAddress(),
			OSDName:         tx.OSDName(),
		}, cfg.API.Token, logger)
		tx.SetOnSend(apiServer.BroadcastSent)
		opts.API = apiServer
		opts.Listen = cfg.API.Listen
	}

	// Handle signals
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Msgf("Received %s, shutting down...", sig)
		cancel(service.ErrInterrupted)
	}()

	err = service.New(opts).Run(ctx)
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	switch {
	case errors.Is(err, service.ErrInterrupted), errors.Is(err, terminal.ErrEndOfInput):
		logger.Info().Msgf("Stopped: %v", err)
		return 0
	case err != nil:
		logger.Error().Err(err).Msg("Stopped")
		return 1
	}
	return 0
}

func handleSend(tx *cec.Transmitter, logger zerolog.Logger, token string) int {
	cmd, err := cec.ParseCommand(token)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid command")
		return 2
	}
	if cmd.Source != tx.OwnAddress() {
		logger.Warn().Msgf("CEC: Source %X is not our address %X, the adapter sends from its own address",
			uint8(cmd.Source), uint8(tx.OwnAddress()))
	}
	if !tx.SendCommand(cmd) {
		return 1
	}
	return 0
}
