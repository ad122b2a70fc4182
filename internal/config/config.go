package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Subtypes supported by the WAV sink, mapped to their bit depths.
var subtypeBitDepths = map[string]int{
	"pcm_16": 16,
	"pcm_24": 24,
	"pcm_32": 32,
}

var allowedSampleRates = map[int]bool{
	44100: true,
	48000: true,
	96000: true,
}

type Config struct {
	Browser    string `json:"browser"`
	OutputDir  string `json:"output_dir"`
	OutputName string `json:"output_name"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Subtype    string `json:"subtype"` // "pcm_16", "pcm_24" or "pcm_32"
	LogLevel   string `json:"log_level"`
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	cfg := &Config{
		Browser:    "Safari",
		OutputDir:  "./",
		OutputName: "output.wav",
		SampleRate: 48000,
		Channels:   2,
		Subtype:    "pcm_16",
		LogLevel:   "info",
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the audio parameters against what the capture stream and
// the WAV sink accept.
func (c *Config) Validate() error {
	if !allowedSampleRates[c.SampleRate] {
		return fmt.Errorf("unsupported sample rate %d (allowed: 44100, 48000, 96000)", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("unsupported channel count %d (allowed: 1, 2)", c.Channels)
	}
	if _, ok := subtypeBitDepths[strings.ToLower(c.Subtype)]; !ok {
		return fmt.Errorf("unsupported subtype %q (allowed: pcm_16, pcm_24, pcm_32)", c.Subtype)
	}
	return nil
}

// BitDepth returns the sink bit depth for the configured subtype. Call
// Validate first; unknown subtypes report 16.
func (c *Config) BitDepth() int {
	if depth, ok := subtypeBitDepths[strings.ToLower(c.Subtype)]; ok {
		return depth
	}
	return 16
}

// OutputPath joins the output directory and file name, expanding a leading ~
// and forcing a .wav suffix.
func (c *Config) OutputPath() (string, error) {
	dir := c.OutputDir
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}

	name := c.OutputName
	if !strings.HasSuffix(name, ".wav") {
		name += ".wav"
	}
	return filepath.Join(abs, name), nil
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "audiograbber", "config.json")
}
