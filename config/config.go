package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultMissingValues are the literal strings that stand for "no data".
var DefaultMissingValues = []string{"None", "none", "N/A", "n/a", "", " "}

// DefaultBinaryColumns are the Yes/No columns canonicalized by the cleaner.
var DefaultBinaryColumns = []string{"family_history_of_ocd", "depression_diagnosis", "anxiety_diagnosis"}

type Config struct {
	Input struct {
		Path string `yaml:"path"`
	} `yaml:"input"`
	Output struct {
		CleanedPath  string `yaml:"cleaned_path"`
		DatabasePath string `yaml:"database_path"`
		PreviewRows  int    `yaml:"preview_rows"`
	} `yaml:"output"`
	Cleaning struct {
		DateColumn    string        `yaml:"date_column"`
		BinaryColumns []string      `yaml:"binary_columns"`
		MissingValues []string      `yaml:"missing_values"`
		DateCacheSize int           `yaml:"date_cache_size"`
		WatchDebounce time.Duration `yaml:"watch_debounce"`
	} `yaml:"cleaning"`
	ML struct {
		TrainPath       string  `yaml:"train_path"`
		TargetColumn    string  `yaml:"target_column"`
		TestRatio       float64 `yaml:"test_ratio"`
		Seed            *int64  `yaml:"seed"` // nil means 42, 0 is a valid seed
		NEstimators     int     `yaml:"n_estimators"`
		MaxDepth        int     `yaml:"max_depth"`
		MinSamplesSplit int     `yaml:"min_samples_split"`
		Workers         int     `yaml:"workers"`
		ModelPath       string  `yaml:"model_path"`
		PredictionCount int     `yaml:"prediction_count"`
	} `yaml:"ml"`
	Database struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the yaml file at path (optional), then .env, then OCDPREP_*
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Input.Path == "" {
		c.Input.Path = "OCD Patient Dataset_ Demographics & Clinical Data.csv"
	}
	if c.Output.CleanedPath == "" {
		c.Output.CleanedPath = "Cleaned_OCD_Patient_Data.csv"
	}
	if c.Output.DatabasePath == "" {
		c.Output.DatabasePath = "Cleaned_OCD_Patient_Data_for_MySQL.csv"
	}
	if c.Output.PreviewRows == 0 {
		c.Output.PreviewRows = 5
	}
	if c.Cleaning.DateColumn == "" {
		c.Cleaning.DateColumn = "ocd_diagnosis_date"
	}
	if c.Cleaning.BinaryColumns == nil {
		c.Cleaning.BinaryColumns = append([]string(nil), DefaultBinaryColumns...)
	}
	if c.Cleaning.MissingValues == nil {
		c.Cleaning.MissingValues = append([]string(nil), DefaultMissingValues...)
	}
	if c.Cleaning.DateCacheSize == 0 {
		c.Cleaning.DateCacheSize = 4096
	}
	if c.Cleaning.WatchDebounce == 0 {
		c.Cleaning.WatchDebounce = 500 * time.Millisecond
	}
	if c.ML.TrainPath == "" {
		c.ML.TrainPath = "OCD Dataset MySQL.csv"
	}
	if c.ML.TargetColumn == "" {
		c.ML.TargetColumn = "medications"
	}
	if c.ML.TestRatio == 0 {
		c.ML.TestRatio = 0.2
	}
	if c.ML.Seed == nil {
		seed := int64(42)
		c.ML.Seed = &seed
	}
	if c.ML.NEstimators == 0 {
		c.ML.NEstimators = 100
	}
	if c.ML.MinSamplesSplit == 0 {
		c.ML.MinSamplesSplit = 2
	}
	if c.ML.PredictionCount == 0 {
		c.ML.PredictionCount = 10
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/ocdprep.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("OCDPREP_INPUT"); v != "" {
		c.Input.Path = v
	}
	if v := os.Getenv("OCDPREP_TRAIN_INPUT"); v != "" {
		c.ML.TrainPath = v
	}
	if v := os.Getenv("OCDPREP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OCDPREP_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("OCDPREP_DB_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OCDPREP_DB_ENABLED: %w", err)
		}
		c.Database.Enabled = enabled
	}
	return nil
}

// Validate rejects settings the tools cannot run with.
func (c *Config) Validate() error {
	if c.Output.CleanedPath == c.Output.DatabasePath {
		return errors.New("cleaned and database outputs must differ")
	}
	if c.ML.TestRatio <= 0 || c.ML.TestRatio >= 1 {
		return fmt.Errorf("test_ratio must be in (0, 1), got %v", c.ML.TestRatio)
	}
	if c.ML.NEstimators < 0 {
		return errors.New("n_estimators cannot be negative")
	}
	if c.ML.MinSamplesSplit < 2 {
		return errors.New("min_samples_split must be at least 2")
	}
	if c.Cleaning.DateCacheSize < 0 {
		return errors.New("date_cache_size cannot be negative")
	}
	return nil
}
