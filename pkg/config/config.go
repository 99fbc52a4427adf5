package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"cancelobject/pkg/gcode"
)

// EnvPrefix prefixes every environment override, e.g.
// CANCELOBJECT_PLUGIN_REPTAG or CANCELOBJECT_SERVER_ADDR.
const EnvPrefix = "CANCELOBJECT_"

// Settings are the plugin options.
type Settings struct {
	// ObjectRegex matches a slicer's object-start comment. Exactly one
	// capture group holds the object name.
	ObjectRegex string `yaml:"object_regex" json:"object_regex" env:"OBJECT_REGEX"`

	// RepTag is the canonical tag written in place of matching comments.
	// Its first byte is the fast-path check on the queue.
	RepTag string `yaml:"reptag" json:"reptag" env:"REPTAG"`

	// ShowNav gates active-object display pushes.
	ShowNav bool `yaml:"shownav" json:"shownav" env:"SHOWNAV"`

	// Pause, Retract and RetractFR are carried for the settings view only.
	Pause     bool    `yaml:"pause" json:"pause" env:"PAUSE"`
	Retract   float64 `yaml:"retract" json:"retract" env:"RETRACT"`
	RetractFR float64 `yaml:"retractfr" json:"retractfr" env:"RETRACTFR"`
}

// ServerSettings configure the HTTP host around the plugin.
type ServerSettings struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR"`

	// HistoryDB is the SQLite job history path. Empty disables history.
	HistoryDB string `yaml:"history_db" env:"HISTORY_DB"`

	// JWTSecret signs operator tokens. Empty leaves every caller anonymous.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`

	// MachineOutput receives forwarded commands: a file or serial device
	// path, or "-" for stdout.
	MachineOutput string `yaml:"machine_output" env:"MACHINE_OUTPUT"`

	// LogFile additionally writes the serve log to a rotated file.
	// Empty logs to stderr only.
	LogFile       string `yaml:"log_file" env:"LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"log_max_backups" env:"LOG_MAX_BACKUPS"`
	LogCompress   bool   `yaml:"log_compress" env:"LOG_COMPRESS"`
}

// Config is the whole settings file.
type Config struct {
	Plugin Settings       `yaml:"plugin" envPrefix:"PLUGIN_"`
	Server ServerSettings `yaml:"server" envPrefix:"SERVER_"`
}

// DefaultSettings returns the plugin defaults.
func DefaultSettings() Settings {
	return Settings{
		ObjectRegex: "; process (.*)",
		RepTag:      "#Object",
		ShowNav:     true,
		Pause:       false,
		Retract:     0.0,
		RetractFR:   300,
	}
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Plugin: DefaultSettings(),
		Server: ServerSettings{
			Addr:          ":5000",
			UploadDir:     "uploads",
			HistoryDB:     "history.db",
			MachineOutput: "-",
			LogMaxSizeMB:  10,
			LogMaxBackups: 5,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, asHostError(WrapError("", "", fmt.Errorf("read %s: %w", path, err)))
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes YAML data over the defaults, applies environment overrides
// and validates the result. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return Config{}, asHostError(WrapError("", "", fmt.Errorf("decode yaml: %w", err)))
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, asHostError(WrapError("", "", fmt.Errorf("parse env: %w", err)))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Plugin.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}

// Validate compiles the pattern and tag and checks numeric ranges.
func (s Settings) Validate() error {
	if s.RepTag == "" {
		return asHostError(ErrMissingOption("plugin", "reptag"))
	}
	if _, err := gcode.NewNormalizer(s.ObjectRegex, s.RepTag); err != nil {
		return asHostError(WrapError("plugin", "object_regex", err))
	}
	if s.Retract < 0 {
		return asHostError(ErrOutOfRange("plugin", "retract", s.Retract, "must not be negative"))
	}
	if s.RetractFR < 0 {
		return asHostError(ErrOutOfRange("plugin", "retractfr", s.RetractFR, "must not be negative"))
	}
	return nil
}

// Validate checks the required server options.
func (s ServerSettings) Validate() error {
	if s.Addr == "" {
		return asHostError(ErrMissingOption("server", "addr"))
	}
	if s.UploadDir == "" {
		return asHostError(ErrMissingOption("server", "upload_dir"))
	}
	if s.MachineOutput == "" {
		return asHostError(ErrMissingOption("server", "machine_output"))
	}
	if s.LogMaxSizeMB < 0 {
		return asHostError(ErrOutOfRange("server", "log_max_size_mb", float64(s.LogMaxSizeMB), "must not be negative"))
	}
	if s.LogMaxBackups < 0 {
		return asHostError(ErrOutOfRange("server", "log_max_backups", float64(s.LogMaxBackups), "must not be negative"))
	}
	return nil
}
