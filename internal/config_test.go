package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/boss-battle/internal"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := internal.DefaultConfig()

	assert.Equal(t, 33*time.Millisecond, cfg.Game.TickInterval)
	assert.Equal(t, 4, cfg.Game.MaxPlayersPerRoom)
	assert.Equal(t, "boss1", cfg.Game.Boss.ID)
	assert.Equal(t, 1000, cfg.Game.Boss.MaxHP)
	assert.NotEmpty(t, cfg.Game.Boss.Attacks)
	assert.Contains(t, cfg.Jobs, "warrior")
	assert.Contains(t, cfg.Jobs, "mage")
	assert.Contains(t, cfg.Jobs, "rogue")
	assert.Contains(t, cfg.Jobs, "healer")

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := internal.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, internal.DefaultConfig(), cfg)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := internal.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_PartialOverlay(t *testing.T) {
	// time.Duration 在 yaml 中以奈秒整數表示
	path := writeConfigFile(t, `
server:
  port: 9000
game:
  tick_interval: 16000000
  max_players_per_room: 2
`)

	cfg, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 16*time.Millisecond, cfg.Game.TickInterval)
	assert.Equal(t, 2, cfg.Game.MaxPlayersPerRoom)

	// 未覆蓋的欄位保留預設值
	assert.Equal(t, 1000, cfg.Game.Boss.MaxHP)
	assert.Contains(t, cfg.Jobs, "warrior")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "game: [not a mapping")
	_, err := internal.LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *internal.Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *internal.Config) {},
		},
		{
			name:    "non-positive tick interval",
			mutate:  func(cfg *internal.Config) { cfg.Game.TickInterval = 0 },
			wantErr: "tick_interval",
		},
		{
			name:    "zero max players",
			mutate:  func(cfg *internal.Config) { cfg.Game.MaxPlayersPerRoom = 0 },
			wantErr: "max_players_per_room",
		},
		{
			name:    "zero playfield width",
			mutate:  func(cfg *internal.Config) { cfg.Game.Playfield.Width = 0 },
			wantErr: "playfield",
		},
		{
			name:    "non-positive boss hp",
			mutate:  func(cfg *internal.Config) { cfg.Game.Boss.MaxHP = 0 },
			wantErr: "max_hp",
		},
		{
			name:    "no boss attacks",
			mutate:  func(cfg *internal.Config) { cfg.Game.Boss.Attacks = nil },
			wantErr: "attacks",
		},
		{
			name: "non-decreasing phase thresholds",
			mutate: func(cfg *internal.Config) {
				cfg.Game.Boss.PhaseThresholds = []float64{0.4, 0.7}
			},
			wantErr: "phase_thresholds",
		},
		{
			name:    "no jobs",
			mutate:  func(cfg *internal.Config) { cfg.Jobs = nil },
			wantErr: "jobs",
		},
		{
			name: "job with zero speed",
			mutate: func(cfg *internal.Config) {
				job := cfg.Jobs["warrior"]
				job.Speed = 0
				cfg.Jobs["warrior"] = job
			},
			wantErr: "speed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := internal.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
