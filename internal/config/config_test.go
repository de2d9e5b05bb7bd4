package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"fc": { "port": "/dev/ttyAMA0", "baud": 57600, "simulation": true },
		"detector": { "threshold": 180 }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "precland.cfg.json"), []byte(cfg), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "/dev/ttyAMA0", viper.GetString("fc.port"))
	assert.Equal(t, 57600, viper.GetInt("fc.baud"))
	assert.Equal(t, true, viper.GetBool("fc.simulation"))
	assert.Equal(t, 180, viper.GetInt("detector.threshold"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "precland.cfg.json"), []byte(`{}`), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "/dev/serial0", viper.GetString("fc.port"))
	assert.Equal(t, 115200, viper.GetInt("fc.baud"))
	assert.Equal(t, 20, viper.GetInt("fc.sendRateHz"))
	assert.Equal(t, "sim", viper.GetString("camera.source"))
	assert.Equal(t, 1456, viper.GetInt("camera.width"))
	assert.Equal(t, 1088, viper.GetInt("camera.height"))
	assert.Equal(t, 200, viper.GetInt("detector.threshold"))
	assert.Equal(t, 5, viper.GetInt("detector.minArea"))
	assert.Equal(t, 500, viper.GetInt("detector.maxArea"))
	assert.Equal(t, 0.5, viper.GetFloat64("detector.circularityMin"))
	assert.Equal(t, 0.1, viper.GetFloat64("pid.kp"))
	assert.Equal(t, 0.5, viper.GetFloat64("pid.integralMax"))
	assert.Equal(t, 15.0, viper.GetFloat64("safety.precisionStartHeight"))
	assert.Equal(t, 0.8, viper.GetFloat64("safety.landingHeight"))
	assert.Equal(t, 300, viper.GetInt("rc.range"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "precland", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetFCConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{ "fc": { "port": "/dev/ttyUSB0", "timeout": "250ms" } }`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "precland.cfg.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	fc := GetFCConfig()
	assert.Equal(t, "/dev/ttyUSB0", fc.Port)
	assert.Equal(t, 115200, fc.Baud)
	assert.Equal(t, 250*time.Millisecond, fc.Timeout)
	assert.Equal(t, 20, fc.SendRateHz)
}

func TestGetSafetyConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "precland.cfg.json"), []byte(`{}`), 0644))
	require.NoError(t, Load(dir))

	sc := GetSafetyConfig()
	assert.Equal(t, 2*time.Second, sc.DetectionTime)
	assert.Equal(t, 3*time.Second, sc.LostTimeout)
	assert.Equal(t, 15.0, sc.PrecisionStartHeight)
	assert.Equal(t, 0.8, sc.LandingHeight)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"storage": {
			"type": "gorm",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false }
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "precland.cfg.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "gorm", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"otel": {
			"enabled": true,
			"serviceName": "precland-test",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "precland.cfg.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "precland-test", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}
