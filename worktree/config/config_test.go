package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite runs every config test from inside a scratch directory so a
// stray config.yaml in the working tree cannot leak into the defaults tests.
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), ".", cfg.Worktree.Root)
	assert.Equal(suite.T(), 0, cfg.Worktree.Scanner.WorkerCount)
	assert.False(suite.T(), cfg.Worktree.Scanner.IncludeIgnored)
	assert.Equal(suite.T(), 75*time.Millisecond, cfg.Worktree.Watcher.DebounceDelay)
	assert.Equal(suite.T(), 500*time.Millisecond, cfg.Worktree.Watcher.MaxDebounceDelay)
	assert.Equal(suite.T(), 100, cfg.Worktree.Watcher.BatchSize)
	assert.Equal(suite.T(), 256, cfg.Worktree.Watcher.QueueCapacity)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
worktree:
  root: /srv/data
  scanner:
    workerCount: 4
    includeIgnored: true
  watcher:
    debounceDelay: 150ms
    batchSize: 10
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "/srv/data", cfg.Worktree.Root)
	assert.Equal(suite.T(), 4, cfg.Worktree.Scanner.WorkerCount)
	assert.True(suite.T(), cfg.Worktree.Scanner.IncludeIgnored)
	assert.Equal(suite.T(), 150*time.Millisecond, cfg.Worktree.Watcher.DebounceDelay)
	assert.Equal(suite.T(), 10, cfg.Worktree.Watcher.BatchSize)

	// Unset keys keep their defaults
	assert.Equal(suite.T(), 500*time.Millisecond, cfg.Worktree.Watcher.MaxDebounceDelay)
	assert.Equal(suite.T(), 256, cfg.Worktree.Watcher.QueueCapacity)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte("worktree: [unclosed\n"), 0o644))

	cfg, err := LoadConfig(configFile)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestAppConfigGlobal() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cfg.Worktree.Root, AppConfig.Worktree.Root)
	assert.Equal(suite.T(), cfg.Worktree.Watcher.BatchSize, AppConfig.Worktree.Watcher.BatchSize)
}

func TestEffectiveWorkerCount(t *testing.T) {
	assert.Equal(t, 8, ScannerConfig{WorkerCount: 8}.EffectiveWorkerCount())

	derived := ScannerConfig{}.EffectiveWorkerCount()
	assert.GreaterOrEqual(t, derived, 2, "the derived count has a floor")
	assert.LessOrEqual(t, derived, 32, "the derived count has a ceiling")
}
