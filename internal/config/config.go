package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FCConfig holds flight-controller link settings.
type FCConfig struct {
	Port       string        `json:"port" mapstructure:"port"`
	Baud       int           `json:"baud" mapstructure:"baud"`
	SendRateHz int           `json:"sendRateHz" mapstructure:"sendRateHz"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	Simulation bool          `json:"simulation" mapstructure:"simulation"`
}

// CameraConfig holds frame-source selection and geometry settings.
type CameraConfig struct {
	Source string `json:"source" mapstructure:"source"`
	Width  int    `json:"width" mapstructure:"width"`
	Height int    `json:"height" mapstructure:"height"`
	FPS    int    `json:"fps" mapstructure:"fps"`
}

// DetectorConfig holds beacon-detection thresholds.
type DetectorConfig struct {
	Threshold      int     `json:"threshold" mapstructure:"threshold"`
	MinArea        int     `json:"minArea" mapstructure:"minArea"`
	MaxArea        int     `json:"maxArea" mapstructure:"maxArea"`
	CircularityMin float64 `json:"circularityMin" mapstructure:"circularityMin"`
	DeadzonePx     int     `json:"deadzonePx" mapstructure:"deadzonePx"`
	UseTracker     bool    `json:"useTracker" mapstructure:"useTracker"`
}

// PIDConfig holds shared gains for both tracking axes.
type PIDConfig struct {
	Kp          float64 `json:"kp" mapstructure:"kp"`
	Ki          float64 `json:"ki" mapstructure:"ki"`
	Kd          float64 `json:"kd" mapstructure:"kd"`
	IntegralMax float64 `json:"integralMax" mapstructure:"integralMax"`
}

// SpeedConfig holds normalized velocity limits.
type SpeedConfig struct {
	MaxHorizontal float64 `json:"maxHorizontal" mapstructure:"maxHorizontal"`
	MaxDescent    float64 `json:"maxDescent" mapstructure:"maxDescent"`
	MinDescent    float64 `json:"minDescent" mapstructure:"minDescent"`
}

// SafetyConfig holds the flight-phase height and timing parameters.
type SafetyConfig struct {
	DetectionTime        time.Duration `json:"detectionTime" mapstructure:"detectionTime"`
	LostTimeout          time.Duration `json:"lostTimeout" mapstructure:"lostTimeout"`
	PrecisionStartHeight float64       `json:"precisionStartHeight" mapstructure:"precisionStartHeight"`
	LandingHeight        float64       `json:"landingHeight" mapstructure:"landingHeight"`
}

// RCConfig holds RC channel mapping parameters.
type RCConfig struct {
	Range int `json:"range" mapstructure:"range"`
}

// WebConfig holds dashboard server settings.
type WebConfig struct {
	Port      int `json:"port" mapstructure:"port"`
	StreamFPS int `json:"streamFps" mapstructure:"streamFps"`
	Quality   int `json:"quality" mapstructure:"quality"`
}

// MemoryConfig holds in-memory/JSON storage backend settings.
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// StorageConfig selects and configures the flight-log backend.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("fc.port", "/dev/serial0")
	viper.SetDefault("fc.baud", 115200)
	viper.SetDefault("fc.sendRateHz", 20)
	viper.SetDefault("fc.timeout", "1s")
	viper.SetDefault("fc.simulation", false)

	viper.SetDefault("camera.source", "sim")
	viper.SetDefault("camera.width", 1456)
	viper.SetDefault("camera.height", 1088)
	viper.SetDefault("camera.fps", 60)

	viper.SetDefault("detector.threshold", 200)
	viper.SetDefault("detector.minArea", 5)
	viper.SetDefault("detector.maxArea", 500)
	viper.SetDefault("detector.circularityMin", 0.5)
	viper.SetDefault("detector.deadzonePx", 40)
	viper.SetDefault("detector.useTracker", true)

	viper.SetDefault("pid.kp", 0.1)
	viper.SetDefault("pid.ki", 0.0)
	viper.SetDefault("pid.kd", 0.0)
	viper.SetDefault("pid.integralMax", 0.5)

	viper.SetDefault("speed.maxHorizontal", 0.4)
	viper.SetDefault("speed.maxDescent", 0.25)
	viper.SetDefault("speed.minDescent", 0.08)

	viper.SetDefault("safety.detectionTime", "2s")
	viper.SetDefault("safety.lostTimeout", "3s")
	viper.SetDefault("safety.precisionStartHeight", 15.0)
	viper.SetDefault("safety.landingHeight", 0.8)

	viper.SetDefault("rc.range", 300)

	viper.SetDefault("web.port", 5000)
	viper.SetDefault("web.streamFps", 20)
	viper.SetDefault("web.quality", 50)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./flights")
	viper.SetDefault("storage.memory.compressOutput", true)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "precland")
	viper.SetDefault("db.sqlitePath", "./flights/precland.db")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "precland-metrics")

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "precland")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName("precland.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetFCConfig returns the flight-controller link configuration.
func GetFCConfig() FCConfig {
	return FCConfig{
		Port:       viper.GetString("fc.port"),
		Baud:       viper.GetInt("fc.baud"),
		SendRateHz: viper.GetInt("fc.sendRateHz"),
		Timeout:    viper.GetDuration("fc.timeout"),
		Simulation: viper.GetBool("fc.simulation"),
	}
}

// GetCameraConfig returns the frame-source configuration.
func GetCameraConfig() CameraConfig {
	return CameraConfig{
		Source: viper.GetString("camera.source"),
		Width:  viper.GetInt("camera.width"),
		Height: viper.GetInt("camera.height"),
		FPS:    viper.GetInt("camera.fps"),
	}
}

// GetDetectorConfig returns the beacon-detection configuration.
func GetDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:      viper.GetInt("detector.threshold"),
		MinArea:        viper.GetInt("detector.minArea"),
		MaxArea:        viper.GetInt("detector.maxArea"),
		CircularityMin: viper.GetFloat64("detector.circularityMin"),
		DeadzonePx:     viper.GetInt("detector.deadzonePx"),
		UseTracker:     viper.GetBool("detector.useTracker"),
	}
}

// GetPIDConfig returns the shared axis-controller gains.
func GetPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:          viper.GetFloat64("pid.kp"),
		Ki:          viper.GetFloat64("pid.ki"),
		Kd:          viper.GetFloat64("pid.kd"),
		IntegralMax: viper.GetFloat64("pid.integralMax"),
	}
}

// GetSpeedConfig returns the velocity limit configuration.
func GetSpeedConfig() SpeedConfig {
	return SpeedConfig{
		MaxHorizontal: viper.GetFloat64("speed.maxHorizontal"),
		MaxDescent:    viper.GetFloat64("speed.maxDescent"),
		MinDescent:    viper.GetFloat64("speed.minDescent"),
	}
}

// GetSafetyConfig returns the flight-phase timing and height parameters.
func GetSafetyConfig() SafetyConfig {
	return SafetyConfig{
		DetectionTime:        viper.GetDuration("safety.detectionTime"),
		LostTimeout:          viper.GetDuration("safety.lostTimeout"),
		PrecisionStartHeight: viper.GetFloat64("safety.precisionStartHeight"),
		LandingHeight:        viper.GetFloat64("safety.landingHeight"),
	}
}

// GetRCConfig returns the RC channel mapping configuration.
func GetRCConfig() RCConfig {
	return RCConfig{
		Range: viper.GetInt("rc.range"),
	}
}

// GetWebConfig returns the dashboard server configuration.
func GetWebConfig() WebConfig {
	return WebConfig{
		Port:      viper.GetInt("web.port"),
		StreamFPS: viper.GetInt("web.streamFps"),
		Quality:   viper.GetInt("web.quality"),
	}
}

// GetStorageConfig returns the flight-log storage configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
