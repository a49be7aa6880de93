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

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"clientId": "viewer-1",
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "viewer-1", viper.GetString("clientId"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./mapsynclogs", viper.GetString("logsDir"))
	assert.Equal(t, "ws://127.0.0.1:8765/adminws", viper.GetString("endpoint"))
	assert.Equal(t, "push", viper.GetString("mode"))
	assert.Equal(t, "map_overlay", viper.GetString("channel"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "mapsync", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, true, viper.GetBool("storage.memory.compressOutput"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, "mapsync", viper.GetString("otel.serviceName"))
	assert.Equal(t, "127.0.0.1:8766", viper.GetString("http.listen"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// defaults stay usable
	assert.Equal(t, "push", viper.GetString("mode"))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("MAPSYNC_CLIENTID", "from-env")
	t.Setenv("MAPSYNC_RECONNECT_MAXATTEMPTS", "7")

	require.NoError(t, Load(writeConfig(t, `{}`)))

	sc := GetSessionConfig()
	assert.Equal(t, "from-env", sc.ClientID)
	assert.Equal(t, 7, sc.MaxReconnectAttempts)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetDuration(t *testing.T) {
	t.Cleanup(viper.Reset)

	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"go duration", "1500ms", 1500 * time.Millisecond},
		{"minutes", "3m", 3 * time.Minute},
		{"int millis", 1000, time.Second},
		{"float millis", float64(250), 250 * time.Millisecond},
		{"numeric string", "20000", 20 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Set("d", tt.value)
			assert.Equal(t, tt.want, GetDuration("d"))
		})
	}
}

func TestGetTags(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("tags", "[A], [B]；C")
	assert.Equal(t, []string{"[A]", "[B]", "C"}, GetTags("tags"))

	viper.Set("tags", []any{"Red", "Blue"})
	assert.Equal(t, []string{"Red", "Blue"}, GetTags("tags"))

	viper.Set("tags", "")
	assert.Empty(t, GetTags("tags"))
}

func TestGetSessionConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	sc := GetSessionConfig()
	assert.Equal(t, "ws://127.0.0.1:8765/adminws", sc.Endpoint)
	assert.Equal(t, "push", sc.Mode)
	assert.Equal(t, time.Second, sc.ReconnectDelay)
	assert.Equal(t, 0, sc.MaxReconnectAttempts)
	assert.Equal(t, 20*time.Second, sc.KeepaliveInterval)

	assert.Equal(t, 1500*time.Millisecond, GetSyncConfig().ResyncCooldown)
	assert.Equal(t, 10*time.Second, GetCommandConfig().AckTimeout)
}

func TestGetSessionConfig_NormalizesEndpoint(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"endpoint": "https://maps.example.com/snapshot",
		"mode": "POLL",
		"reconnect": { "delay": 2500, "maxAttempts": 3 }
	}`)))

	sc := GetSessionConfig()
	assert.Equal(t, "wss://maps.example.com/adminws", sc.Endpoint)
	assert.Equal(t, "poll", sc.Mode)
	assert.Equal(t, 2500*time.Millisecond, sc.ReconnectDelay)
	assert.Equal(t, 3, sc.MaxReconnectAttempts)

	pc := GetPollConfig()
	assert.Equal(t, "https://maps.example.com/snapshot", pc.URL)
	assert.Equal(t, time.Second, pc.Interval)
}

func TestGetRenderConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"render": {
			"targetDimension": "minecraft:the_nether",
			"scopes": ["players"],
			"showCoords": true,
			"friendlyTags": "[RED],[R]",
			"enemyTags": ["[BLU]"],
			"sizes": { "player": 14 }
		}
	}`)))

	rc := GetRenderConfig()
	assert.Equal(t, "minecraft:the_nether", rc.TargetDimension)
	assert.Equal(t, []string{"players"}, rc.Scopes)
	assert.True(t, rc.ShowCoords)
	assert.False(t, rc.AutoTeamFromName)
	assert.Equal(t, []string{"[RED]", "[R]"}, rc.FriendlyTags)
	assert.Equal(t, []string{"[BLU]"}, rc.EnemyTags)
	assert.Equal(t, 14.0, rc.Sizes.Player)
	assert.Equal(t, 7.0, rc.Sizes.Entity)
	assert.Equal(t, "simple", rc.Projection)
	assert.Equal(t, 1.0, rc.Scale)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, 100000, cfg.Memory.MaxEntries)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, 2*time.Second, cfg.Postgres.FlushInterval)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "SQLite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m", "dumpPath": "/tmp/j.db" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "/tmp/j.db", sc.SQLite.DumpPath)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "mapsync", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 30*time.Second, cfg.MetricInterval)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"metricInterval": 10000,
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, 10*time.Second, oc.MetricInterval)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetDBAndInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{ "influx": { "enabled": true, "token": "t0k" } }`)))

	db := GetDBConfig()
	assert.Equal(t, "postgres", db.Username)
	assert.Equal(t, "disable", db.SSLMode)

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "t0k", ic.Token)
	assert.Equal(t, "8086", ic.Port)

	assert.Equal(t, 10*time.Second, GetMonitorConfig().Interval)
}
