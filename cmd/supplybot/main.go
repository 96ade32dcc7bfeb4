package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/supplybot/internal/api"
	"github.com/banshee-data/supplybot/internal/config"
	"github.com/banshee-data/supplybot/internal/db"
	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/serialmux"
	"github.com/banshee-data/supplybot/internal/timeutil"
	"github.com/banshee-data/supplybot/internal/version"
	"github.com/banshee-data/supplybot/internal/vision"
)

var (
	configPath     = flag.String("config", "", "Path to a JSON run config (built-in defaults when empty)")
	devMode        = flag.Bool("dev", false, "Run against an in-memory serial port that acknowledges every command")
	port           = flag.String("port", "", "Serial port to use (overrides config, ignored in dev mode)")
	detectionsPath = flag.String("detections", "detections.json", "Arena detections produced by the vision pipeline")
	replayPath     = flag.String("replay", "", "Replay marker positions from a CSV file instead of listening for UDP")
	udpAddr        = flag.String("udp", ":4210", "Listen address for live marker datagrams")
	frameTimeout   = flag.Duration("frame-timeout", time.Second, "Treat the marker as lost when no datagram arrives within this time (0 waits forever)")
	listen         = flag.String("listen", ":8080", "HTTP listen address (empty disables the status server)")
	dbPathFlag     = flag.String("db", "", "Run log database path (overrides config)")
	reportPath     = flag.String("report", "", "Relief aid report path (overrides config)")
	plotDir        = flag.String("plots", "", "Directory for the arena plot and bearing trace (overrides config)")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// tickSource is a vision feed owned by main.
type tickSource interface {
	navigation.TickSource
	io.Closer
}

// loadConfig reads the run config and applies command line overrides.
func loadConfig() (*config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(*configPath); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.RunConfig) {
	override := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	override(&cfg.SerialPort, *port)
	override(&cfg.DBPath, *dbPathFlag)
	override(&cfg.ReportPath, *reportPath)
	override(&cfg.PlotDir, *plotDir)
}

func openSource(cfg *config.RunConfig) (tickSource, error) {
	if *replayPath != "" {
		return vision.OpenReplay(*replayPath, timeutil.RealClock{}, cfg.GetTickRateHz())
	}
	if *devMode {
		return nil, fmt.Errorf("dev mode needs a -replay file")
	}
	return vision.ListenUDP(vision.UDPOptions{Addr: *udpAddr, FrameTimeout: *frameTimeout})
}

// openLink opens the actuator port. Tests swap it for an in-memory port.
var openLink = func(cfg *config.RunConfig) (serialmux.SerialMuxInterface, error) {
	if *devMode {
		return serialmux.NewDevSerialMux(), nil
	}
	return serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.PortOptions())
}

// Main
func main() {
	flag.Parse()

	if err := run(); err != nil {
		if errors.Is(err, db.ErrUsage) {
			os.Exit(2)
		}
		log.Printf("supplybot: %v", err)
		os.Exit(1)
	}
}

// run owns every resource of the process. It returns instead of exiting so
// the port, database and marker feed are closed on every path.
func run() error {
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("unknown command %q", flag.Arg(0))
		}
	}

	log.Printf("%s starting", version.String())

	dets, err := vision.LoadDetections(*detectionsPath)
	if err != nil {
		return fmt.Errorf("failed to load detections: %w", err)
	}

	m, err := openLink(cfg)
	if err != nil {
		return fmt.Errorf("failed to open actuator port: %w", err)
	}
	defer m.Close()

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	source, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("failed to open marker feed: %w", err)
	}
	defer source.Close()

	runID := db.NewRunID()
	status := api.NewStatusStore(runID)
	clock := timeutil.RealClock{}
	// the session and manual commands share one paced channel
	actuator := navigation.NewChannel(m, clock, cfg.GetCommandPace())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("serial monitor stopped: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// record whatever the firmware prints against the run
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if err := serialmux.HandleLine(database, runID, line); err != nil {
					log.Printf("error handling device line: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, newHandler(m, actuator, database, status))
		}()
	}

	runErr := runMission(ctx, mission{
		runID:      runID,
		cfg:        cfg,
		detections: dets,
		actuator:   actuator,
		db:         database,
		source:     source,
		clock:      clock,
		status:     status,
	})
	if runErr != nil {
		log.Printf("run %s failed: %v", runID, runErr)
	} else {
		log.Printf("run %s finished", runID)
	}

	stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return runErr
}

// newHandler mounts the admin debugging routes (accessible only in dev mode
// or over Tailscale) and the public API. Both command routes go through
// actuator.
func newHandler(m serialmux.SerialMuxInterface, actuator api.CommandSender, database *db.DB, status *api.StatusStore) http.Handler {
	mux := http.NewServeMux()
	server := api.NewServer(actuator, database, status)

	database.AttachAdminRoutes(mux)
	m.AttachAdminRoutes(mux, server.CommandHandler())

	mux.Handle("/", server.ServeMux())
	return api.LoggingMiddleware(mux)
}

func serveHTTP(ctx context.Context, handler http.Handler) {
	server := &http.Server{
		Addr:    *listen,
		Handler: handler,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("HTTP server routine stopped")
}

// configJSON renders cfg for the run log. Marshalling a RunConfig cannot
// fail, so errors fall back to an empty object.
func configJSON(cfg *config.RunConfig) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(b)
}
