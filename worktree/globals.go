package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config search paths and the workspace dot dir
	DefaultAppName         = "worktreed"
	DefaultConfigPath      = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultGlobalConfig    = filepath.Join(DefaultConfigPath, "config.yaml")
	DefaultWorkerCount     = 0 // 0 means runtime.NumCPU derived
	DefaultBatchSize       = 100
	DefaultQueueCapacity   = 256
	DefaultDebounceMillis  = 75
	DefaultMaxDebounceMill = 500
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			// Last resort - use tmp directory
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
