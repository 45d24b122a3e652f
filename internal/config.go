package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 系統設計考量：
//
// 引擎本身不寫死任何平衡數值（傷害、速度、冷卻、階段門檻），
// 全部由配置提供。這讓房間生命週期與 tick 節奏的正確性
// 可以獨立於任何一套數值被測試。
type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"` // 空字串表示輸出到 stdout
	} `yaml:"log"`

	Game GameConfig `yaml:"game"`

	Jobs map[string]JobConfig `yaml:"jobs"`
}

// GameConfig 單場戰鬥的規則參數
type GameConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	MaxPlayersPerRoom int           `yaml:"max_players_per_room"`

	Playfield struct {
		Width  float64 `yaml:"width"`
		Height float64 `yaml:"height"`
	} `yaml:"playfield"`

	Boss BossConfig `yaml:"boss"`
}

// BossConfig 魔王的初始狀態與攻擊模式
type BossConfig struct {
	ID    string  `yaml:"id"`
	MaxHP int     `yaml:"max_hp"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`

	// PhaseThresholds 是 HP 比例門檻（遞減），跨過一個門檻階段 +1。
	// 例如 [0.7, 0.4]：HP 掉到 70% 進入第 2 階段，40% 進入第 3 階段。
	PhaseThresholds []float64 `yaml:"phase_thresholds"`

	// Attacks 依階段輪替的攻擊模式，第 n 階段使用第 (n-1) % len 個。
	Attacks []BossAttackConfig `yaml:"attacks"`
}

// BossAttackConfig 一種彈幕模式
type BossAttackConfig struct {
	Name       string        `yaml:"name"`
	Projectile string        `yaml:"projectile"` // 彈幕的 type 標籤
	Count      int           `yaml:"count"`      // 一輪發射的彈數（環狀均分）
	Speed      float64       `yaml:"speed"`
	TTL        time.Duration `yaml:"ttl"`
	Damage     int           `yaml:"damage"`
	Radius     float64       `yaml:"radius"`
	Interval   time.Duration `yaml:"interval"` // 兩輪發射的間隔
}

// JobConfig 一個職業的數值
type JobConfig struct {
	MaxHP  int     `yaml:"max_hp"`
	Speed  float64 `yaml:"speed"` // 單位 / 秒
	Attack struct {
		Damage int     `yaml:"damage"`
		Range  float64 `yaml:"range"`  // 玩家與魔王的最大距離
		Radius float64 `yaml:"radius"` // 以瞄準點為圓心的判定半徑
	} `yaml:"attack"`
	Skills map[string]SkillConfig `yaml:"skills"`
}

// SkillConfig 技能數值；Damage 為負值時視為治療
type SkillConfig struct {
	Cooldown   time.Duration `yaml:"cooldown"`
	Damage     int           `yaml:"damage"`
	Radius     float64       `yaml:"radius"`
	Projectile string        `yaml:"projectile"` // 非空則生成玩家彈幕而非立即結算
	Speed      float64       `yaml:"speed"`
	TTL        time.Duration `yaml:"ttl"`
}

// DefaultConfig 返回預設配置（30Hz tick、魔王 HP 1000）
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = nil // 空表示拒絕跨來源（同源永遠允許）
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Game.TickInterval = 33 * time.Millisecond
	cfg.Game.MaxPlayersPerRoom = 4
	cfg.Game.Playfield.Width = 800
	cfg.Game.Playfield.Height = 600

	cfg.Game.Boss = BossConfig{
		ID:              "boss1",
		MaxHP:           1000,
		X:               400,
		Y:               150,
		PhaseThresholds: []float64{0.7, 0.4},
		Attacks: []BossAttackConfig{
			{
				Name:       "radial_burst",
				Projectile: "orb",
				Count:      12,
				Speed:      120,
				TTL:        4 * time.Second,
				Damage:     10,
				Radius:     16,
				Interval:   2 * time.Second,
			},
			{
				Name:       "dense_ring",
				Projectile: "orb",
				Count:      18,
				Speed:      160,
				TTL:        4 * time.Second,
				Damage:     15,
				Radius:     16,
				Interval:   1500 * time.Millisecond,
			},
			{
				Name:       "desperation_ring",
				Projectile: "flame",
				Count:      24,
				Speed:      200,
				TTL:        5 * time.Second,
				Damage:     20,
				Radius:     18,
				Interval:   1200 * time.Millisecond,
			},
		},
	}

	cfg.Jobs = map[string]JobConfig{
		"warrior": jobConfig(140, 180, 14, 90, 40, map[string]SkillConfig{
			"cleave": {Cooldown: 5 * time.Second, Damage: 35, Radius: 70},
		}),
		"mage": jobConfig(90, 150, 8, 320, 30, map[string]SkillConfig{
			"fireball": {Cooldown: 6 * time.Second, Damage: 45, Radius: 24, Projectile: "fireball", Speed: 260, TTL: 3 * time.Second},
		}),
		"rogue": jobConfig(100, 220, 11, 120, 32, map[string]SkillConfig{
			"fan_of_knives": {Cooldown: 4 * time.Second, Damage: 8, Radius: 20, Projectile: "knife", Speed: 300, TTL: 2 * time.Second},
		}),
		"healer": jobConfig(110, 160, 6, 260, 28, map[string]SkillConfig{
			"mend": {Cooldown: 8 * time.Second, Damage: -30, Radius: 90},
		}),
	}

	return cfg
}

func jobConfig(hp int, speed float64, dmg int, rng, radius float64, skills map[string]SkillConfig) JobConfig {
	jc := JobConfig{MaxHP: hp, Speed: speed, Skills: skills}
	jc.Attack.Damage = dmg
	jc.Attack.Range = rng
	jc.Attack.Radius = radius
	return jc
}

// LoadConfig 讀取 yaml 配置檔並疊加在預設值之上
//
// path 為空時直接返回預設配置。部分欄位缺漏會保留預設值
// （yaml 只覆蓋檔案中出現的鍵）。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查配置的基本約束
func (c *Config) Validate() error {
	if c.Game.TickInterval <= 0 {
		return fmt.Errorf("game.tick_interval must be positive")
	}
	if c.Game.MaxPlayersPerRoom < 1 {
		return fmt.Errorf("game.max_players_per_room must be at least 1")
	}
	if c.Game.Playfield.Width <= 0 || c.Game.Playfield.Height <= 0 {
		return fmt.Errorf("game.playfield dimensions must be positive")
	}
	if c.Game.Boss.MaxHP <= 0 {
		return fmt.Errorf("game.boss.max_hp must be positive")
	}
	if len(c.Game.Boss.Attacks) == 0 {
		return fmt.Errorf("game.boss.attacks must not be empty")
	}
	// 階段門檻必須嚴格遞減，否則階段推進無法單調
	for i := 1; i < len(c.Game.Boss.PhaseThresholds); i++ {
		if c.Game.Boss.PhaseThresholds[i] >= c.Game.Boss.PhaseThresholds[i-1] {
			return fmt.Errorf("game.boss.phase_thresholds must be strictly decreasing")
		}
	}
	if len(c.Jobs) == 0 {
		return fmt.Errorf("jobs must not be empty")
	}
	for id, job := range c.Jobs {
		if job.MaxHP <= 0 {
			return fmt.Errorf("jobs.%s.max_hp must be positive", id)
		}
		if job.Speed <= 0 {
			return fmt.Errorf("jobs.%s.speed must be positive", id)
		}
	}
	return nil
}
