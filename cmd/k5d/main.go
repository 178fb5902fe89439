package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/k5link/pkg/config"
	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/session"
	"github.com/dougsko/k5link/pkg/verbose"
)

var (
	configPath  = flag.String("config", "config.yaml", "Configuration file path (.yaml or .toml)")
	version     = flag.Bool("version", false, "Show version information")
	mockRadio   = flag.Bool("mock", false, "Use an in-memory radio instead of the serial device")
	verboseMode = flag.Bool("verbose", false, "Trace serial packets as hex")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"

	mockFirmware = "2.01.32 F4HWN mock"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("k5d version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath, *mockRadio)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(*mockRadio); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	verbose.SetEnabled(*verboseMode)

	logging.Info("main", fmt.Sprintf("k5d version %s starting...", Version))
	logging.Info("main", fmt.Sprintf("Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port))

	sess, closer, err := openSession(cfg, *mockRadio)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to open radio: %v", err))
		os.Exit(1)
	}

	daemon, err := NewK5Daemon(cfg, sess, closer)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		if closer != nil {
			closer.Close()
		}
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		daemon.Stop()
		os.Exit(1)
	}

	logging.Info("main", "k5d started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "k5d stopped")
}

// loadConfig reads the configuration file. Mock mode runs on defaults when
// the file does not exist.
func loadConfig(path string, mock bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if mock && errors.Is(err, os.ErrNotExist) {
		log.Printf("Config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return nil, err
}

// openSession returns the radio session and whatever must be closed on exit
func openSession(cfg *config.Config, mock bool) (session.Session, io.Closer, error) {
	if mock {
		logging.Info("main", "Using mock radio", map[string]interface{}{"firmware": mockFirmware})
		return session.NewMockSession(mockFirmware), nil, nil
	}

	s, err := session.OpenSerial(session.SerialConfig{
		Device:           cfg.Serial.Device,
		BaudRate:         cfg.Serial.BaudRate,
		ReadTimeout:      cfg.ReadTimeout(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}
