package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wiper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "slave", cfg.Node.Role)
	assert.False(t, cfg.Node.IsMaster())
	assert.Equal(t, uint8(0x20), cfg.Link.CommandID)
	assert.Equal(t, uint8(0x21), cfg.Link.StatusID)
	assert.Equal(t, uint32(0x100), cfg.CAN.CommandID)
	assert.Equal(t, uint32(0x101), cfg.CAN.StatusID)
	assert.Equal(t, 5, cfg.Channel.RetryMax)
	assert.Equal(t, 300*time.Millisecond, cfg.Coordinator.NormalPeriod)
	assert.Equal(t, 150*time.Millisecond, cfg.Coordinator.FastPeriod)
	assert.Equal(t, 1700*time.Millisecond, cfg.Coordinator.IntermittentPause)
	assert.Equal(t, "both", cfg.Coordinator.AutoCommand.Group)
	assert.False(t, cfg.HTTP.Auth.Enabled)
	assert.True(t, cfg.HTTP.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.HTTP.RateLimit.RequestsPerMin)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "wiperd", cfg.App.Name)
	assert.Len(t, cfg.Actuators.Groups, 2)
	assert.Equal(t, "configs/response.env", cfg.Faults.File)
	assert.Equal(t, time.Second, cfg.Coordinator.ModeDwell)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
node:
  role: master
  forward: true
can:
  enable: true
  interface: vcan0
actuators:
  groups:
    - name: front
      elements: 4
coordinator:
  modeDwell: 3s
`)
	t.Setenv("WIPER_CHANNEL_RETRYMAX", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Node.IsMaster())
	assert.True(t, cfg.Node.Forward)
	assert.Equal(t, "vcan0", cfg.CAN.Interface)
	require.Len(t, cfg.Actuators.Groups, 1)
	assert.Equal(t, 4, cfg.Actuators.Groups[0].Elements)
	assert.Equal(t, 3*time.Second, cfg.Coordinator.ModeDwell)
	assert.Equal(t, 7, cfg.Channel.RetryMax)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"未知角色", "node:\n  role: gateway\n"},
		{"两条总线都关闭", "link:\n  enable: false\ncan:\n  enable: false\n"},
		{"LIN ID 超过6位", "link:\n  commandId: 64\n"},
		{"CAN ID 超过11位", "can:\n  enable: true\n  statusId: 4096\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
