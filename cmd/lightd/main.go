// Command lightd runs the adaptive lamp controller: it samples the distance
// to the patient, picks the operating band and drives the lamp and iris
// through the controller board's serial bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/adaptive-light/internal/bridge"
	"github.com/banshee-data/adaptive-light/internal/config"
	"github.com/banshee-data/adaptive-light/internal/light"
	"github.com/banshee-data/adaptive-light/internal/monitoring"
	"github.com/banshee-data/adaptive-light/internal/serialmux"
	"github.com/banshee-data/adaptive-light/internal/timeutil"
	"github.com/banshee-data/adaptive-light/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a simulated controller board")
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port of the controller board (ignored in dev mode)")
	reportPort  = flag.String("report-port", "", "Serial port for status reports (default: stdout)")
	configPath  = flag.String("config", "", "Path to a JSON configuration file")
	disabled    = flag.Bool("disabled", false, "Start with the light disabled regardless of configuration")
	verbose     = flag.Bool("verbose", false, "Log every sampling and actuation cycle")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// openPort opens serial devices; tests replace it.
var openPort serialmux.SerialPortOpener = serialmux.OpenPort

// options carries the parsed command line into run.
type options struct {
	Dev        bool
	Port       string
	ReportPort string
	ConfigPath string
	Disabled   bool
}

// loadConfig returns the configuration at path, or the defaults when path is
// empty.
func loadConfig(path string) (*config.LightConfig, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// openBridge opens the board's serial mux, or a simulated board in dev mode.
func openBridge(opts options, cfg *config.LightConfig) (*serialmux.SerialMux[serialmux.SerialPorter], error) {
	if opts.Dev {
		log.Printf("dev mode: using simulated controller board")
		return serialmux.NewSerialMux[serialmux.SerialPorter](bridge.NewSimulatedDevice(nil)), nil
	}
	if opts.Port == "" {
		return nil, errors.New("serial port is required")
	}
	p, err := openPort(opts.Port, cfg.GetSerialOptions())
	if err != nil {
		return nil, err
	}
	return serialmux.NewSerialMux(p), nil
}

// openReport returns the status report destination.
func openReport(opts options, cfg *config.LightConfig, stdout io.Writer) (io.Writer, func() error, error) {
	if opts.ReportPort == "" {
		return stdout, func() error { return nil }, nil
	}
	p, err := openPort(opts.ReportPort, cfg.GetSerialOptions())
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// run wires the controller together and blocks until ctx is cancelled.
func run(ctx context.Context, opts options, clock timeutil.Clock, stdout io.Writer) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mux, err := openBridge(opts, cfg)
	if err != nil {
		return fmt.Errorf("failed to open controller board: %w", err)
	}
	defer mux.Close()

	reportW, closeReport, err := openReport(opts, cfg, stdout)
	if err != nil {
		return fmt.Errorf("failed to open report port: %w", err)
	}
	defer closeReport()

	board := bridge.New(mux)
	cell := &light.DistanceCell{}

	samplerCfg := cfg.SamplerConfig()
	samplerCfg.Clock = clock
	sampler := light.NewSampler(board, cell, samplerCfg)

	driverCfg := cfg.DriverConfig()
	driverCfg.Clock = clock
	if opts.Disabled {
		driverCfg.Enabled = false
	}
	driver := light.NewDriver(classifier, cell, board, board, light.NewWriterReporter(reportW), driverCfg)

	log.Printf("lightd %s starting: session=%s thresholds=%+v", version.String(), driver.SessionID(), classifier.Thresholds())

	var wg sync.WaitGroup

	// monitor routine manages reads from the board
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := board.WatchEnableSwitch(ctx, driver.SetEnabled); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("enable switch watcher stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		driver.Run(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	driver.Park()
	stats := sampler.Stats()
	log.Printf("Graceful shutdown complete: reads=%d misses=%d cycles=%d", stats.Reads, stats.Misses, driver.Status().Cycles)
	return nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		Dev:        *devMode,
		Port:       *port,
		ReportPort: *reportPort,
		ConfigPath: *configPath,
		Disabled:   *disabled,
	}
	if err := run(ctx, opts, timeutil.RealClock{}, os.Stdout); err != nil {
		log.Fatalf("lightd: %v", err)
	}
}
