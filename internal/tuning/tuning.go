package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"labyrinth.ai/internal/nav"
	"labyrinth.ai/internal/team"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Team       Team       `yaml:"team"`
	Navigation Navigation `yaml:"navigation"`
	Challenge  Challenge  `yaml:"challenge"`
	Transport  Transport  `yaml:"transport"`
	Data       Data       `yaml:"data"`
	Observer   Observer   `yaml:"observer"`
	MQTT       MQTT       `yaml:"mqtt"`
	Log        Log        `yaml:"log"`
}

type Server struct {
	Addr          string        `yaml:"addr"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxFrameBytes int           `yaml:"max_frame_bytes"`
}

type Team struct {
	Name         string `yaml:"name"`
	PlayerPrefix string `yaml:"player_prefix"`
}

type Navigation struct {
	VisitThreshold  int    `yaml:"visit_threshold"`
	HistoryCapacity int    `yaml:"history_capacity"`
	LoopMinHistory  int    `yaml:"loop_min_history"`
	LoopEscape      string `yaml:"loop_escape"`
	ExitCheckAccess bool   `yaml:"exit_check_access"`
}

type Challenge struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SecretGrace     time.Duration `yaml:"secret_grace"`
}

type Transport struct {
	SendBackoff time.Duration `yaml:"send_backoff"`
}

type Data struct {
	Dir           string        `yaml:"dir"`
	DisableDB     bool          `yaml:"disable_db"`
	SnapshotEvery time.Duration `yaml:"snapshot_every"`
}

type Observer struct {
	Listen string `yaml:"listen"`
}

type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Load reads path over Defaults. An empty or missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Server: Server{
			Addr:          "localhost:8778",
			RetryInterval: 2 * time.Second,
			MaxFrameBytes: 1 << 20,
		},
		Team: Team{
			Name:         "curious_broccoli",
			PlayerPrefix: "Player_",
		},
		Navigation: Navigation{
			VisitThreshold:  nav.DefaultVisitThreshold,
			HistoryCapacity: 8,
			LoopMinHistory:  5,
			LoopEscape:      string(nav.LoopEscapeAdvisory),
		},
		Challenge: Challenge{
			MaxAttempts:     3,
			ResponseTimeout: 3 * time.Second,
			SecretGrace:     300 * time.Millisecond,
		},
		Transport: Transport{SendBackoff: 2 * time.Second},
		Data: Data{
			Dir:           "./data",
			SnapshotEvery: 30 * time.Second,
		},
		Observer: Observer{Listen: "127.0.0.1:8090"},
		MQTT:     MQTT{TopicPrefix: "labyrinth"},
		Log:      Log{Level: "info"},
	}
}

// Normalize fills zero values left by a partial file with their defaults.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	def := Defaults()
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RetryInterval <= 0 {
		c.Server.RetryInterval = def.Server.RetryInterval
	}
	if c.Server.MaxFrameBytes <= 0 {
		c.Server.MaxFrameBytes = def.Server.MaxFrameBytes
	}
	if strings.TrimSpace(c.Team.Name) == "" {
		c.Team.Name = def.Team.Name
	}
	if c.Team.PlayerPrefix == "" {
		c.Team.PlayerPrefix = def.Team.PlayerPrefix
	}
	if c.Navigation.VisitThreshold <= 0 {
		c.Navigation.VisitThreshold = def.Navigation.VisitThreshold
	}
	if c.Navigation.HistoryCapacity <= 0 {
		c.Navigation.HistoryCapacity = def.Navigation.HistoryCapacity
	}
	if c.Navigation.LoopMinHistory <= 0 {
		c.Navigation.LoopMinHistory = def.Navigation.LoopMinHistory
	}
	c.Navigation.LoopEscape = strings.ToLower(strings.TrimSpace(c.Navigation.LoopEscape))
	if c.Navigation.LoopEscape == "" {
		c.Navigation.LoopEscape = def.Navigation.LoopEscape
	}
	if c.Challenge.MaxAttempts <= 0 {
		c.Challenge.MaxAttempts = def.Challenge.MaxAttempts
	}
	if c.Challenge.ResponseTimeout <= 0 {
		c.Challenge.ResponseTimeout = def.Challenge.ResponseTimeout
	}
	if c.Challenge.SecretGrace < 0 {
		c.Challenge.SecretGrace = 0
	}
	if c.Transport.SendBackoff <= 0 {
		c.Transport.SendBackoff = def.Transport.SendBackoff
	}
	if strings.TrimSpace(c.Data.Dir) == "" {
		c.Data.Dir = def.Data.Dir
	}
	if c.Data.SnapshotEvery <= 0 {
		c.Data.SnapshotEvery = def.Data.SnapshotEvery
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func (c Config) Validate() error {
	switch nav.LoopEscape(c.Navigation.LoopEscape) {
	case nav.LoopEscapeAdvisory, nav.LoopEscapeOverride:
	default:
		return fmt.Errorf("navigation.loop_escape: unknown mode %q", c.Navigation.LoopEscape)
	}
	if c.Navigation.LoopMinHistory > c.Navigation.HistoryCapacity {
		return fmt.Errorf("navigation.loop_min_history=%d exceeds history_capacity=%d",
			c.Navigation.LoopMinHistory, c.Navigation.HistoryCapacity)
	}
	if strings.ContainsAny(c.Team.Name, " \t\n") {
		return fmt.Errorf("team.name %q contains whitespace", c.Team.Name)
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return errors.New("mqtt.client_id is required when mqtt.broker is set")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "notice", "warning", "warn", "error", "critical":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}

// EngineConfig maps the navigation section onto the decision engine.
func (c Config) EngineConfig() nav.Config {
	return nav.Config{
		VisitThreshold:  c.Navigation.VisitThreshold,
		LoopEscape:      nav.LoopEscape(c.Navigation.LoopEscape),
		ExitCheckAccess: c.Navigation.ExitCheckAccess,
	}
}

func (c Config) SolverConfig() team.SolverConfig {
	return team.SolverConfig{
		MaxAttempts:     c.Challenge.MaxAttempts,
		ResponseTimeout: c.Challenge.ResponseTimeout,
		SecretGrace:     c.Challenge.SecretGrace,
	}
}
