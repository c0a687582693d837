package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings holds the user-editable runtime options persisted next to
// the service, separate from the deploy-time YAML config.
type Settings struct {
	AudioDir string `json:"audio_dir"`
}

// LoadSettings reads the JSON settings file. A missing file is not an
// error; defaults apply.
func LoadSettings(path, defaultAudioDir string) (Settings, error) {
	s := Settings{AudioDir: defaultAudioDir}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read settings file: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings file: %w", err)
	}
	if s.AudioDir == "" {
		s.AudioDir = defaultAudioDir
	}
	return s, nil
}

// SaveSettings writes the settings file, creating parent directories
// as needed.
func SaveSettings(path string, s Settings) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
