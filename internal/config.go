package internal

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/api"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/capture"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/database"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/pipeline"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/queue"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/scanner"
	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
)

// TransferConfig is the struct used to contain the various user config
// supplied by file or environment.
type TransferConfig struct {
	Database   database.DatabaseConfig `yaml:"database" env-required:"true"`
	Queue      queue.Config            `yaml:"queue" env-required:"true"`
	Session    session.Config          `yaml:"session"`
	Capture    capture.Config          `yaml:"capture"`
	Pipeline   pipeline.Config         `yaml:"pipeline"`
	Scanner    scanner.Config          `yaml:"scanner"`
	Rest       api.RestConfig          `yaml:"api"`
	MaxRetries int                     `yaml:"max_retries" env:"TRANSFER_MAX_RETRIES" env-default:"3"`
}

// Load populates the config from the YAML file at configPath, falling
// back to environment variables alone when no file exists there.
func (config *TransferConfig) Load(configPath string) error {
	if _, err := os.Stat(configPath); err != nil {
		if readErr := cleanenv.ReadEnv(config); readErr != nil {
			return fmt.Errorf("failed to load configuration from environment: %w", readErr)
		}

		return nil
	}

	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}
