/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/providers"
	"github.com/loqalabs/loqa-translate/internal/speech"
)

// EnvPrefix is prepended to every environment override (server.port -> LOQA_SERVER_PORT)
const EnvPrefix = "LOQA"

// DefaultPrompt is used when no prompt is configured or supplied with a request
const DefaultPrompt = "Translate the source_language text in the JSON below into target_language. " +
	"Reply with JSON only, shaped like the input: a text_blocks array in which every element keeps its id " +
	"and carries the translated text. Do not add explanations."

// Config holds all configuration for the translation service
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"log"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Translation TranslationConfig `mapstructure:"translation"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Speech      SpeechConfig      `mapstructure:"speech"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnect  int           `mapstructure:"max_reconnect"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	// MaxConcurrent bounds the translate requests handled at once
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// DatabaseConfig holds the sqlite location
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DiagnosticsConfig controls the reply log, last-error files and history retention
type DiagnosticsConfig struct {
	Dir              string        `mapstructure:"dir"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// TranslationConfig selects the active provider and tunes the retry policy
type TranslationConfig struct {
	ActiveProvider   string                      `mapstructure:"active_provider"`
	Prompt           string                      `mapstructure:"prompt"`
	SourceLanguage   string                      `mapstructure:"source_language"`
	TargetLanguage   string                      `mapstructure:"target_language"`
	MaxRetries       int                         `mapstructure:"max_retries"`
	FailureThreshold int                         `mapstructure:"failure_threshold"`
	FailureDelay     time.Duration               `mapstructure:"failure_delay"`
	Providers        map[string]ProviderSettings `mapstructure:"providers"`
}

// ProviderSettings are the per-provider overrides. Keys accepts a YAML list or
// a "+++"-joined string.
type ProviderSettings struct {
	Model    string        `mapstructure:"model"`
	Endpoint string        `mapstructure:"endpoint"`
	Keys     []string      `mapstructure:"keys"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AudioConfig controls segmentation and the capture queue
type AudioConfig struct {
	Segmenter      audio.SegmenterConfig `mapstructure:",squash"`
	Channels       int                   `mapstructure:"channels"`
	QueueSize      int                   `mapstructure:"queue_size"`
	OverflowPolicy string                `mapstructure:"overflow_policy"`
}

// SpeechConfig selects the speech engine and tunes the pipeline
type SpeechConfig struct {
	Engine   speech.EngineConfig   `mapstructure:",squash"`
	Pipeline speech.PipelineConfig `mapstructure:",squash"`
}

// Load reads configuration from the optional YAML file at path, environment
// overrides and defaults
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Loader owns the viper instance so the file can be watched after loading
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for the file at path ("" means env and defaults only)
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Loader{v: v, path: path}
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(keys.KeySeparator),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(l.v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 150*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnect", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_concurrent", 8)

	v.SetDefault("database.path", "./data/loqa-translate.db")

	v.SetDefault("diagnostics.dir", "./data/diagnostics")
	v.SetDefault("diagnostics.history_retention", 30*24*time.Hour)

	v.SetDefault("translation.active_provider", providers.Groq)
	v.SetDefault("translation.prompt", DefaultPrompt)
	v.SetDefault("translation.source_language", "auto")
	v.SetDefault("translation.target_language", "english")
	v.SetDefault("translation.max_retries", 3)
	v.SetDefault("translation.failure_threshold", 3)
	v.SetDefault("translation.failure_delay", 100*time.Millisecond)
	for _, name := range providers.Known() {
		d, _ := providers.DefaultsFor(name)
		prefix := "translation.providers." + name + "."
		v.SetDefault(prefix+"model", d.Model)
		v.SetDefault(prefix+"endpoint", "")
		v.SetDefault(prefix+"keys", "")
		v.SetDefault(prefix+"timeout", d.Timeout)
	}

	seg := audio.DefaultSegmenterConfig()
	v.SetDefault("audio.sample_rate", seg.SampleRate)
	v.SetDefault("audio.frame_duration", seg.FrameDuration)
	v.SetDefault("audio.threshold", seg.Threshold)
	v.SetDefault("audio.silence_duration", seg.SilenceDuration)
	v.SetDefault("audio.max_segment", seg.MaxSegment)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.queue_size", 64)
	v.SetDefault("audio.overflow_policy", audio.PolicyDropOldest.String())

	pipeline := speech.DefaultPipelineConfig()
	v.SetDefault("speech.engine", speech.EngineSTT)
	v.SetDefault("speech.model_path", "./models/ggml-base.bin")
	v.SetDefault("speech.stt_url", "http://localhost:8000")
	v.SetDefault("speech.model", "tiny")
	v.SetDefault("speech.language", "")
	v.SetDefault("speech.no_speech_threshold", 0.6)
	v.SetDefault("speech.poll_interval", pipeline.PollInterval)
	v.SetDefault("speech.forward_queue", pipeline.ForwardQueue)
	v.SetDefault("speech.source_language", "")
	v.SetDefault("speech.target_language", "")
	v.SetDefault("speech.prompt", "")
}

// normalize lower-cases provider names and flattens "+++" entries inside key lists
func (c *Config) normalize() {
	c.Translation.ActiveProvider = strings.ToLower(strings.TrimSpace(c.Translation.ActiveProvider))
	c.Speech.Engine.Kind = strings.ToLower(strings.TrimSpace(c.Speech.Engine.Kind))

	normalized := make(map[string]ProviderSettings, len(c.Translation.Providers))
	for name, p := range c.Translation.Providers {
		p.Keys = keys.ParseKeyList(strings.Join(p.Keys, keys.KeySeparator))
		normalized[strings.ToLower(name)] = p
	}
	c.Translation.Providers = normalized

	if c.Speech.Pipeline.SourceLanguage == "" {
		c.Speech.Pipeline.SourceLanguage = c.Translation.SourceLanguage
	}
	if c.Speech.Pipeline.TargetLanguage == "" {
		c.Speech.Pipeline.TargetLanguage = c.Translation.TargetLanguage
	}
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if !providers.IsKnown(c.Translation.ActiveProvider) {
		return fmt.Errorf("unknown active provider %q (known: %s)",
			c.Translation.ActiveProvider, strings.Join(providers.Known(), ", "))
	}

	for name := range c.Translation.Providers {
		if !providers.IsKnown(name) {
			return fmt.Errorf("unknown provider in configuration: %q", name)
		}
	}

	if c.Translation.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %d", c.Translation.MaxRetries)
	}

	if c.Translation.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must not be negative: %d", c.Translation.FailureThreshold)
	}

	if c.Translation.FailureDelay < 0 {
		return fmt.Errorf("failure delay must not be negative: %s", c.Translation.FailureDelay)
	}

	if err := c.Audio.Segmenter.Validate(); err != nil {
		return fmt.Errorf("invalid audio configuration: %w", err)
	}

	if c.NATS.MaxConcurrent < 0 {
		return fmt.Errorf("nats max_concurrent must not be negative: %d", c.NATS.MaxConcurrent)
	}

	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio channels must be positive: %d", c.Audio.Channels)
	}

	if _, err := audio.ParseOverflowPolicy(c.Audio.OverflowPolicy); err != nil {
		return err
	}

	switch c.Speech.Engine.Kind {
	case speech.EngineSTT, speech.EngineWhisper:
	default:
		return fmt.Errorf("unknown speech engine %q", c.Speech.Engine.Kind)
	}

	return nil
}
