package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const sampleHeader = `# sftpjail configuration file
#
# Every key can be overridden with SFTPJAIL_<SECTION>_<KEY>, for example
# SFTPJAIL_SERVER_PORT=2022. DATA_DIR, PORT, SFTP_USER and SFTP_PASS are
# accepted as well.

`

// InitConfig writes a sample configuration to path (or the default location when
// path is empty) and returns the path written and the generated password.
// An existing file is only replaced when force is set.
func InitConfig(path string, force bool) (string, string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return "", "", fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	password, err := generatePassword()
	if err != nil {
		return "", "", err
	}
	cfg := GetDefaultConfig()
	cfg.Auth.Password = password

	if err := SaveConfig(cfg, path); err != nil {
		return "", "", err
	}
	return path, password, nil
}

// SaveConfig writes cfg as YAML. The file may hold a password, so it is
// readable by the owner only.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(sampleHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
