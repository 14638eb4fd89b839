package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
	"github.com/MagneFire/AsteroidOSSync/internal/config"
	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
	"github.com/MagneFire/AsteroidOSSync/internal/gatt"
	"github.com/MagneFire/AsteroidOSSync/internal/services"
	"github.com/MagneFire/AsteroidOSSync/internal/watch"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/asteroid-sync/config.yaml)")
	address := flag.String("address", "", "watch MAC address (overrides device.address)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	scan := flag.Duration("scan", 0, "scan for nearby watches for the given duration and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Config written to", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	printBanner(cfg)

	opts, err := managerOptions(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	transport := ble.NewTinyGoTransport()
	if err := transport.Enable(); err != nil {
		log.Fatalf("Failed to enable Bluetooth adapter: %v", err)
	}

	if *scan > 0 {
		if err := printWatches(transport, *scan); err != nil {
			log.Fatalf("scan: %v", err)
		}
		return
	}

	registry := connectivity.NewRegistry()
	manager := watch.NewManager(transport, registry, logObserver(), opts)
	for _, m := range builtinModules(cfg.Services, manager) {
		if err := registry.RegisterService(m); err != nil {
			log.Fatalf("register %s: %v", m.Name(), err)
		}
		m.SetHandler(func(char uuid.UUID, data []byte) {
			slog.Info("[SERVICE] received", "module", m.Name(), "char", ble.ShortUUID(char), "bytes", len(data))
		})
	}
	slog.Info("[REGISTRY] services ready", "count", registry.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := make(chan watch.Command, 8)
	served := make(chan error, 1)
	go func() { served <- manager.Serve(ctx, cmds) }()

	if cfg.Device.Address != "" {
		cmds <- watch.Command{Kind: watch.CommandSetDevice, Device: watch.Device{Address: cfg.Device.Address, Name: cfg.Device.Name}}
		cmds <- watch.Command{Kind: watch.CommandConnect}
	} else {
		log.Println("No device configured; use 'set <address> [name]' then 'connect'")
	}

	// Host commands come from stdin, one per line.
	go readCommands(os.Stdin, cmds)

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-served:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: command loop stopped: %v", err)
		}
	}

	cancel()
	if err := manager.Close(); err != nil {
		log.Printf("ERROR: close: %v", err)
	}
	log.Println("Goodbye!")
}

// managerOptions maps the config onto the connection manager options.
func managerOptions(cfg *config.Config) (watch.Options, error) {
	policy, err := gatt.ParsePolicy(cfg.Binding.PartialServices)
	if err != nil {
		return watch.Options{}, err
	}
	return watch.Options{
		Connect: ble.ConnectOptions{
			AutoReconnect: cfg.Connection.AutoReconnect,
			Timeout:       cfg.Connection.Timeout,
			Retries:       cfg.Connection.Retries,
			RetryDelay:    cfg.Connection.RetryDelay,
		},
		MTU:          cfg.Connection.MTU,
		ReconnectMax: cfg.Connection.ReconnectMax,
		Binder: gatt.BinderOptions{
			RequireNotification: cfg.Binding.RequireNotification,
			Policy:              policy,
		},
	}, nil
}

// builtinModules returns the enabled AsteroidOS modules in registration order.
func builtinModules(enabled config.ServicesConfig, sender connectivity.Sender) []*services.Module {
	var mods []*services.Module
	if enabled.Time {
		mods = append(mods, services.NewTime(sender, time.Now))
	}
	if enabled.Weather {
		mods = append(mods, services.NewWeather(sender))
	}
	if enabled.Notifications {
		mods = append(mods, services.NewNotifications(sender))
	}
	if enabled.Media {
		mods = append(mods, services.NewMedia(sender))
	}
	if enabled.Screenshot {
		mods = append(mods, services.NewScreenshot(sender))
	}
	return mods
}

// logObserver reports session events on the default logger.
func logObserver() watch.Observer {
	return watch.ObserverFuncs{
		StateChanged: func(state watch.State, name string) {
			slog.Info("[WATCH] state", "state", state, "device", name)
		},
		BatteryChanged: func(percentage int) {
			slog.Info("[WATCH] battery", "percent", percentage)
		},
		ConnectionError: func(err error) {
			slog.Error("[WATCH] connection error", "error", err)
		},
	}
}

// readCommands parses host commands from r until EOF.
func readCommands(r io.Reader, cmds chan<- watch.Command) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, err := parseCommand(scanner.Text())
		if err != nil {
			log.Printf("ERROR: %v", err)
			continue
		}
		if cmd != nil {
			cmds <- *cmd
		}
	}
}

// parseCommand parses one command line. Blank lines yield nil.
func parseCommand(line string) (*watch.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	switch fields[0] {
	case "connect":
		return &watch.Command{Kind: watch.CommandConnect}, nil
	case "disconnect":
		return &watch.Command{Kind: watch.CommandDisconnect}, nil
	case "set":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: set <address> [name]")
		}
		dev := watch.Device{Address: fields[1]}
		if len(fields) > 2 {
			dev.Name = strings.Join(fields[2:], " ")
		}
		return &watch.Command{Kind: watch.CommandSetDevice, Device: dev}, nil
	case "unset":
		return &watch.Command{Kind: watch.CommandUnsetDevice}, nil
	case "battery":
		return &watch.Command{Kind: watch.CommandRequestBattery}, nil
	case "update":
		return &watch.Command{Kind: watch.CommandUpdate}, nil
	default:
		return nil, fmt.Errorf("unknown command %q (want connect, disconnect, set, unset, battery, update)", fields[0])
	}
}

// printWatches lists the watches advertising nearby.
func printWatches(s ble.Scanner, timeout time.Duration) error {
	fmt.Printf("Scanning for watches (%s)...\n", timeout)
	watches, err := ble.ScanForWatches(context.Background(), s, timeout)
	if err != nil {
		return err
	}
	if len(watches) == 0 {
		fmt.Println("No watches found")
		return nil
	}
	for _, w := range watches {
		name := w.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  %-16s %d dBm\n", w.Address, name, w.RSSI)
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	device := cfg.Device.Address
	if device == "" {
		device = "(not set)"
	} else if cfg.Device.Name != "" {
		device += " (" + cfg.Device.Name + ")"
	}
	fmt.Println("=== asteroid-sync ===")
	fmt.Printf("  Device:    %s\n", device)
	fmt.Printf("  Connect:   timeout %s, %d retries, auto-reconnect %t\n",
		cfg.Connection.Timeout, cfg.Connection.Retries, cfg.Connection.AutoReconnect)
	fmt.Printf("  MTU:       %d\n", cfg.Connection.MTU)
	fmt.Printf("  Binding:   partial services %s\n", cfg.Binding.PartialServices)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}
