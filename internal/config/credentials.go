package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const apiKeyEnv = "DMS_API_KEY"

// credentialsFile is the shape of the local JSON credentials file
type credentialsFile struct {
	APIKey string `json:"api_key"`
}

// LoadAPIKey resolves the upstream API key. The environment wins, optionally seeded
// from a dotenv file; otherwise the JSON credentials file is read.
func LoadAPIKey(envFile, credsPath string) (string, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, nil
	}

	data, err := os.ReadFile(credsPath)
	if err != nil {
		return "", fmt.Errorf("no %s set and credentials file unreadable: %w", apiKeyEnv, err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("failed to parse credentials file %s: %w", credsPath, err)
	}
	if creds.APIKey == "" {
		return "", fmt.Errorf("credentials file %s has no api_key", credsPath)
	}
	return creds.APIKey, nil
}
