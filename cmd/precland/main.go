package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/precland/precland/internal/api"
	"github.com/precland/precland/internal/config"
	"github.com/precland/precland/internal/control"
	"github.com/precland/precland/internal/database"
	"github.com/precland/precland/internal/dispatcher"
	"github.com/precland/precland/internal/fsm"
	"github.com/precland/precland/internal/handlers"
	"github.com/precland/precland/internal/influx"
	"github.com/precland/precland/internal/logging"
	"github.com/precland/precland/internal/model"
	"github.com/precland/precland/internal/monitor"
	"github.com/precland/precland/internal/msp"
	intOtel "github.com/precland/precland/internal/otel"
	"github.com/precland/precland/internal/pid"
	"github.com/precland/precland/internal/storage"
	"github.com/precland/precland/internal/telemetry"
	"github.com/precland/precland/internal/track"
	"github.com/precland/precland/internal/vision"
	"github.com/precland/precland/internal/web"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// version info - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "1.0.0"
	BuildDate      string = "unknown"

	AppName string = "precland"
)

// file paths
var (
	LogFilePath string
	LogFile     *os.File
)

// services
var (
	slogManager  *logging.SlogManager
	logger       *slog.Logger
	otelProvider *intOtel.Provider

	dbManager     *database.Manager
	influxManager *influx.Manager
	backend       storage.Backend

	eventDispatcher *dispatcher.Dispatcher
	machine         *fsm.Machine
	detector        *vision.Detector
	rollPID         *pid.Controller
	pitchPID        *pid.Controller
	flightStore     *telemetry.Store
	monitorService  *monitor.Service
	webServer       *web.Server

	// sessionClosed flips once the landing session has been finalized, so
	// shutdown knows whether an ABORTED outcome is still owed.
	sessionClosed atomic.Bool

	// landing session identity for the exported-log upload
	sessionID         string
	sessionOutcome    string
	sessionFirmware   string
	sessionSimulation bool

	startTime time.Time = time.Now()
)

func main() {
	configDir := flag.String("config", ".", "directory containing precland.cfg.json")
	simulate := flag.Bool("simulate", false, "force simulation mode, no serial port or camera needed")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
		return
	}

	// Console-only logging until the config tells us where the log file goes
	slogManager = logging.NewSlogManager()
	slogManager.SetContextProvider(flightStateContext)
	slogManager.Setup(nil, "info", nil)
	logger = slogManager.Logger()

	if err := loadConfig(*configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config")
	}
	if *simulate {
		viper.Set("fc.simulation", true)
	}

	setupLogging()
	logger.Info("Starting up...", "version", CurrentVersion, "build", BuildDate)

	if err := run(); err != nil {
		logger.Error("Fatal error", "error", err)
		shutdownLogging()
		os.Exit(1)
	}
	shutdownLogging()
}

func loadConfig(configDir string) error {
	return config.Load(configDir)
}

// flightStateContext tags every log record with the current flight phase.
// The machine does not exist yet while startup logs are written.
func flightStateContext() []slog.Attr {
	if machine == nil {
		return nil
	}
	return []slog.Attr{slog.String("flightState", machine.State().String())}
}

// setupLogging reconfigures the slog manager with the log file, the
// Graylog forwarder and the OTel provider, all per config.
func setupLogging() {
	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.MkdirAll(logsDir, 0755)
	}

	LogFilePath = filepath.Join(logsDir,
		fmt.Sprintf("%s.%s.log", AppName, startTime.Format("20060102_150405")))

	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to create/open log file, staying on console", "error", err, "path", LogFilePath)
	}

	if viper.GetBool("graylog.enabled") {
		addr := viper.GetString("graylog.address")
		if err := slogManager.EnableGelf(addr); err != nil {
			logger.Error("Failed to enable Graylog forwarding", "error", err, "address", addr)
		} else {
			logger.Info("Graylog forwarding enabled", "address", addr)
		}
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled && LogFile != nil {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    LogFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		otelLogProvider = otelProvider.LoggerProvider()
	}
	if LogFile != nil {
		slogManager.Setup(LogFile, viper.GetString("logLevel"), otelLogProvider)
		logger = slogManager.Logger()
		logger.Info("Logging to file", "path", LogFilePath)
	}
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slogManager.Flush(ctx)
	if otelProvider != nil {
		otelProvider.Shutdown(ctx)
	}
	slogManager.Close()
	if LogFile != nil {
		LogFile.Close()
	}
}

// zerologLogger builds the logger the database and influx managers use.
func zerologLogger() zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if LogFile != nil {
		return zerolog.New(LogFile).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fcCfg := config.GetFCConfig()
	camCfg := config.GetCameraConfig()
	detCfg := config.GetDetectorConfig()
	pidCfg := config.GetPIDConfig()
	speedCfg := config.GetSpeedConfig()
	safetyCfg := config.GetSafetyConfig()
	rcCfg := config.GetRCConfig()

	// Flight controller link. A dead serial port degrades to simulation so
	// the dashboard and pipeline stay inspectable in the field.
	engine := msp.NewEngine(msp.Config{
		Port:       fcCfg.Port,
		Baud:       fcCfg.Baud,
		Timeout:    fcCfg.Timeout,
		Simulation: fcCfg.Simulation,
	}, logger)
	if err := engine.Connect(); err != nil {
		logger.Error("Flight controller unreachable, falling back to simulation", "error", err, "port", fcCfg.Port)
		fcCfg.Simulation = true
		engine = msp.NewEngine(msp.Config{
			Port:       fcCfg.Port,
			Baud:       fcCfg.Baud,
			Timeout:    fcCfg.Timeout,
			Simulation: true,
		}, logger)
	}
	defer engine.Disconnect()

	firmware := "unknown"
	if info, ok := engine.RequestFCInfo(); ok {
		firmware = fmt.Sprintf("%s %s", info.Variant, info.Version)
		logger.Info("Flight controller identified", "variant", info.Variant, "version", info.Version)
	} else {
		logger.Warn("Flight controller firmware query returned nothing")
	}

	// Vision pipeline. The configured source is opened by name; an unknown
	// camera aborts startup unless the run is simulated anyway.
	source, err := vision.OpenSource(camCfg.Source, camCfg.Width, camCfg.Height)
	if err != nil {
		if !fcCfg.Simulation {
			return fmt.Errorf("opening camera: %w", err)
		}
		logger.Warn("Camera unavailable, using synthetic frames", "source", camCfg.Source, "error", err)
		source = vision.NewSimSource(camCfg.Width, camCfg.Height)
	}
	defer source.Close()
	detector = vision.NewDetector(vision.Config{
		Width:          camCfg.Width,
		Height:         camCfg.Height,
		Threshold:      detCfg.Threshold,
		MinArea:        detCfg.MinArea,
		MaxArea:        detCfg.MaxArea,
		CircularityMin: detCfg.CircularityMin,
		DeadzonePx:     detCfg.DeadzonePx,
	}, logger)

	var tracker *track.Filter
	if detCfg.UseTracker {
		tracker = track.NewFilter(0.01, 0.1)
	}

	machine = fsm.New(fsm.Config{
		DetectionTime: safetyCfg.DetectionTime,
		LostTimeout:   safetyCfg.LostTimeout,
		StartHeight:   safetyCfg.PrecisionStartHeight,
		LandingHeight: safetyCfg.LandingHeight,
	}, logger)

	rollPID = pid.New(pid.Config{
		Kp: pidCfg.Kp, Ki: pidCfg.Ki, Kd: pidCfg.Kd,
		IntegralMax: pidCfg.IntegralMax,
		OutputMin:   -speedCfg.MaxHorizontal,
		OutputMax:   speedCfg.MaxHorizontal,
		Name:        "roll",
	}, logger)
	pitchPID = pid.New(pid.Config{
		Kp: pidCfg.Kp, Ki: pidCfg.Ki, Kd: pidCfg.Kd,
		IntegralMax: pidCfg.IntegralMax,
		OutputMin:   -speedCfg.MaxHorizontal,
		OutputMax:   speedCfg.MaxHorizontal,
		Name:        "pitch",
	}, logger)

	flightStore = telemetry.NewStore()

	// Flight log backend. A gorm backend that cannot reach a database falls
	// back to the in-memory JSON exporter.
	storageCfg := config.GetStorageConfig()
	if storageCfg.Type == "gorm" {
		dbManager = database.NewManager(zerologLogger())
		if err := dbManager.Connect(); err != nil {
			logger.Error("Database unavailable, using memory storage", "error", err)
			dbManager = nil
			storageCfg.Type = "memory"
		} else if err := dbManager.Setup(); err != nil {
			logger.Error("Database migration failed, using memory storage", "error", err)
			dbManager = nil
			storageCfg.Type = "memory"
		}
	}
	backend, err = storage.NewBackend(storageCfg, dbManager)
	if err != nil {
		return fmt.Errorf("creating storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}
	logger.Info("Storage backend initialized", "type", storageCfg.Type)

	session, err := model.NewLandingSession(startTime, fcCfg.Simulation, firmware, sessionConfig())
	if err != nil {
		return fmt.Errorf("building landing session: %w", err)
	}
	if err := backend.StartSession(&session); err != nil {
		return fmt.Errorf("starting landing session: %w", err)
	}
	sessionID = session.SessionID
	sessionFirmware = firmware
	sessionSimulation = fcCfg.Simulation
	logger.Info("Landing session opened", "sessionID", sessionID)

	machine.OnStateChange(func(old, new fsm.State) {
		t := model.StateTransition{
			Time:      time.Now(),
			FromState: old.String(),
			ToState:   new.String(),
			Reason:    transitionReason(old, new),
			Altitude:  float32(flightStore.Altitude()),
		}
		if err := backend.RecordTransition(&t); err != nil {
			logger.Error("Failed to record state transition", "error", err)
		}
		if new == fsm.StateComplete {
			if err := backend.EndSession("COMPLETE"); err != nil {
				logger.Error("Failed to finalize landing session", "error", err)
			} else {
				sessionClosed.Store(true)
				sessionOutcome = "COMPLETE"
				logger.Info("Landing session finalized", "outcome", "COMPLETE")
			}
			if otelProvider != nil {
				otelProvider.Flush(context.Background())
			}
		}
	})

	loop := control.New(control.Config{
		SendRateHz:           fcCfg.SendRateHz,
		TelemetryRateHz:      10,
		Width:                camCfg.Width,
		Height:               camCfg.Height,
		RCRange:              rcCfg.Range,
		PrecisionStartHeight: safetyCfg.PrecisionStartHeight,
		LandingHeight:        safetyCfg.LandingHeight,
		MaxDescent:           speedCfg.MaxDescent,
		MinDescent:           speedCfg.MinDescent,
	}, engine, source, detector, tracker, machine, rollPID, pitchPID, flightStore, logger)

	loop.AddRecorder(storage.NewRecorder(backend, logger))

	if viper.GetBool("influx.enabled") {
		backupPath := filepath.Join(viper.GetString("logsDir"),
			fmt.Sprintf("influx_backup_%s.lp.gz", startTime.Format("20060102_150405")))
		influxManager = influx.NewManager(zerologLogger(), backupPath)
		if err := influxManager.Connect(); err != nil {
			logger.Error("InfluxDB unavailable, time-series recording disabled", "error", err)
			influxManager = nil
		} else {
			loop.AddRecorder(influx.NewRecorder(influxManager, session.SessionID))
			logger.Info("InfluxDB recording enabled")
		}
	}

	// Dispatcher routes dashboard commands to the machine and controllers.
	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(zerologLogger()))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	handlers.NewService(handlers.Dependencies{
		Machine:  machine,
		RollPID:  rollPID,
		PitchPID: pitchPID,
		Detector: detector,
		Logger:   logger,
	}).Register(eventDispatcher)

	monitorService = monitor.NewService(monitor.Dependencies{
		Backend:    backend,
		Store:      flightStore,
		LogManager: slogManager,
		StatusDir:  viper.GetString("logsDir"),
	})
	if err := monitorService.Start(); err != nil {
		logger.Error("Failed to start status monitor", "error", err)
	}

	webServer = web.New(config.GetWebConfig(), flightStore, detector, eventDispatcher, logger)
	webServer.Start()
	logger.Info("Dashboard serving", "port", config.GetWebConfig().Port)

	loop.Start(ctx)
	logger.Info("Control loop running", "rateHz", fcCfg.SendRateHz, "simulation", fcCfg.Simulation)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	shutdown(loop)
	return nil
}

// shutdown tears services down in reverse dependency order so every queued
// flight-log row reaches its backend before the process exits.
func shutdown(loop *control.Loop) {
	loop.Stop()
	monitorService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(ctx); err != nil {
		logger.Error("Dashboard shutdown failed", "error", err)
	}

	if !sessionClosed.Load() {
		if err := backend.EndSession("ABORTED"); err != nil {
			logger.Error("Failed to finalize landing session", "error", err)
		} else {
			sessionClosed.Store(true)
			sessionOutcome = "ABORTED"
			logger.Info("Landing session finalized", "outcome", "ABORTED")
		}
	}
	if err := backend.Close(); err != nil {
		logger.Error("Storage backend close failed", "error", err)
	}
	if exp, ok := backend.(storage.Exportable); ok {
		if path := exp.GetExportedFilePath(); path != "" {
			logger.Info("Flight log exported", "path", path)
			uploadFlightLog(path)
		}
	}

	if dbManager != nil && dbManager.ShouldSaveLocal {
		if err := dbManager.DumpMemoryToDisk(); err != nil {
			logger.Error("Failed to dump in-memory database", "error", err)
		}
	}

	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			logger.Error("InfluxDB close failed", "error", err)
		}
	}

	logger.Info("Shutdown complete")
}

// uploadFlightLog ships an exported flight log to the ground-station server
// when one is configured. Upload failures keep the local file.
func uploadFlightLog(path string) {
	if !viper.GetBool("api.enabled") {
		return
	}
	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	if err := client.Healthcheck(); err != nil {
		logger.Warn("Ground station unreachable, flight log kept locally", "error", err)
		return
	}
	err := client.Upload(path, api.UploadMetadata{
		SessionID:       sessionID,
		Outcome:         sessionOutcome,
		DurationSeconds: time.Since(startTime).Seconds(),
		Firmware:        sessionFirmware,
		Simulation:      sessionSimulation,
	})
	if err != nil {
		logger.Error("Flight log upload failed", "error", err, "path", path)
		return
	}
	logger.Info("Flight log uploaded", "path", path)
}

// sessionConfig is the parameter snapshot stored with each landing session.
func sessionConfig() map[string]any {
	return map[string]any{
		"fc":       config.GetFCConfig(),
		"camera":   config.GetCameraConfig(),
		"detector": config.GetDetectorConfig(),
		"pid":      config.GetPIDConfig(),
		"speed":    config.GetSpeedConfig(),
		"safety":   config.GetSafetyConfig(),
		"rc":       config.GetRCConfig(),
	}
}

func transitionReason(old, new fsm.State) string {
	switch new {
	case fsm.StateSearching:
		switch old {
		case fsm.StateIdle:
			return "operator enable"
		case fsm.StateTracking:
			return "beacon lost before confirmation"
		}
		return "search restarted"
	case fsm.StateTracking:
		if old == fsm.StateLost {
			return "beacon reacquired"
		}
		return "beacon detected"
	case fsm.StateApproach:
		return "beacon confirmed"
	case fsm.StateLanding:
		return "final descent altitude reached"
	case fsm.StateLost:
		return "beacon lost"
	case fsm.StateComplete:
		return "touchdown detected"
	case fsm.StateIdle:
		return "operator disable"
	}
	return ""
}
