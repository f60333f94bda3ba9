package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"porecon/internal"
	"porecon/internal/util"
)

const (
	KeyWorkingMode           = "working_mode"
	KeyKeepWorkingMode       = "keep_working_mode"
	KeyArchiveProcessedFiles = "archive_processed_files"
	KeyEnableFuzzyMatch      = "enable_fuzzy_match"
	KeyFuzzyThreshold        = "fuzzy_threshold"
	KeyMaxBackups            = "max_backups"
	KeyBackupInterval        = "backup_interval"
	KeyExportFormat          = "export_format"
	KeyMetricsAddr           = "metrics_addr"
	KeyInputDir              = "input_dir"
	KeyOutputDir             = "output_dir"
	KeyReviewDir             = "review_dir"
	KeyArchiveDir            = "archive_dir"
)

const (
	ExportXLSX = "xlsx"
	ExportCSV  = "csv"

	minFuzzyThreshold = 0.1
	maxFuzzyThreshold = 0.9
)

var ErrInvalidSetting = errors.New("invalid setting")

var defaults = map[string]any{
	KeyWorkingMode:           string(internal.ModeOff),
	KeyKeepWorkingMode:       false,
	KeyArchiveProcessedFiles: true,
	KeyEnableFuzzyMatch:      true,
	KeyFuzzyThreshold:        0.8,
	KeyMaxBackups:            10,
	KeyBackupInterval:        24,
	KeyExportFormat:          ExportXLSX,
	KeyMetricsAddr:           "",
	KeyInputDir:              "",
	KeyOutputDir:             "",
	KeyReviewDir:             "",
	KeyArchiveDir:            "",
}

// Settings is the durable key-value store behind config.json. It is shared by
// the pipeline goroutines and the operator surface, so every access goes
// through mu; viper itself is not safe for concurrent use.
type Settings struct {
	mu     sync.Mutex
	v      *viper.Viper
	root   string
	path   string
	logger *slog.Logger
}

// LoadSettings reads <root>/config.json, creating it with defaults when it is
// missing and falling back to defaults when it cannot be parsed. Unless
// keep_working_mode is set, the working mode always starts as off.
func LoadSettings(root string, logger *slog.Logger) (*Settings, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(root, "config.json")
	s := &Settings{v: newViper(path), root: root, path: path, logger: logger}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("no config found, creating a new one", "path", path)
		return s, s.Save()
	}

	if err := s.v.ReadInConfig(); err != nil {
		logger.Error("config corrupt, using defaults", "path", path, "error", err)
		s.v = newViper(path)
		return s, s.Save()
	}

	s.normalizeLoaded()
	logger.Info("settings loaded", "path", path)
	return s, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v
}

// normalizeLoaded pushes hand-edited values through the same validation the
// setters use. Anything invalid is logged and reset to its default.
func (s *Settings) normalizeLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	mode := strings.ToLower(strings.TrimSpace(s.v.GetString(KeyWorkingMode)))
	if !validMode(mode) {
		s.logger.Error("invalid working mode in config", "value", mode)
		mode = string(internal.ModeOff)
	}
	if !s.v.GetBool(KeyKeepWorkingMode) {
		mode = string(internal.ModeOff)
	}
	s.v.Set(KeyWorkingMode, mode)

	if threshold, err := toFloat(s.v.Get(KeyFuzzyThreshold)); err != nil {
		s.logger.Error("invalid fuzzy threshold in config", "error", err)
		s.v.Set(KeyFuzzyThreshold, defaults[KeyFuzzyThreshold])
	} else {
		s.v.Set(KeyFuzzyThreshold, clampThreshold(threshold))
	}

	if hours, err := toHours(s.v.Get(KeyBackupInterval)); err != nil {
		s.logger.Error("invalid backup interval in config", "error", err)
		s.v.Set(KeyBackupInterval, defaults[KeyBackupInterval])
	} else {
		s.v.Set(KeyBackupInterval, hours)
	}

	if limit, err := toFloat(s.v.Get(KeyMaxBackups)); err != nil || limit < 0 {
		s.logger.Error("invalid max_backups in config", "value", s.v.Get(KeyMaxBackups))
		s.v.Set(KeyMaxBackups, defaults[KeyMaxBackups])
	} else {
		s.v.Set(KeyMaxBackups, int(limit))
	}

	format := strings.ToLower(s.v.GetString(KeyExportFormat))
	if format != ExportXLSX && format != ExportCSV {
		s.logger.Error("invalid export format in config", "value", format)
		format = ExportXLSX
	}
	s.v.Set(KeyExportFormat, format)
}

func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("settings saved", "path", s.path)
	return nil
}

// WriteSnapshot writes the current settings as JSON to path (used by backups).
func (s *Settings) WriteSnapshot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.WriteConfigAs(path)
}

func (s *Settings) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.AllSettings()
}

// Set applies a raw string value to key, the way the operator CLI does.
func (s *Settings) Set(key, value string) error {
	switch key {
	case KeyWorkingMode:
		return s.SetWorkingMode(value)
	case KeyKeepWorkingMode, KeyArchiveProcessedFiles, KeyEnableFuzzyMatch:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return s.reject(key, value, err)
		}
		s.setBool(key, b)
		return nil
	case KeyFuzzyThreshold:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return s.reject(key, value, err)
		}
		return s.SetFuzzyThreshold(f)
	case KeyMaxBackups:
		n, err := strconv.Atoi(value)
		if err != nil {
			return s.reject(key, value, err)
		}
		return s.SetMaxBackups(n)
	case KeyBackupInterval:
		return s.SetBackupInterval(value)
	case KeyExportFormat:
		return s.SetExportFormat(value)
	case KeyMetricsAddr:
		s.setString(key, strings.TrimSpace(value))
		return nil
	case KeyInputDir, KeyOutputDir, KeyReviewDir, KeyArchiveDir:
		s.setString(key, strings.TrimSpace(value))
		return nil
	default:
		return s.reject(key, value, errors.New("unknown key"))
	}
}

func (s *Settings) reject(key string, value any, cause error) error {
	s.logger.Error("setting rejected", "key", key, "value", value, "error", cause)
	return fmt.Errorf("%w: %s=%v: %v", ErrInvalidSetting, key, value, cause)
}

func (s *Settings) setBool(key string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

func (s *Settings) setString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

func (s *Settings) WorkingMode() internal.WorkingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return internal.WorkingMode(s.v.GetString(KeyWorkingMode))
}

// SetWorkingMode accepts off, auto or hybrid in any letter case.
func (s *Settings) SetWorkingMode(value string) error {
	mode := strings.ToLower(strings.TrimSpace(value))
	if !validMode(mode) {
		return s.reject(KeyWorkingMode, value, errors.New("must be one of off, auto, hybrid"))
	}
	s.setString(KeyWorkingMode, mode)
	return nil
}

func validMode(mode string) bool {
	switch internal.WorkingMode(mode) {
	case internal.ModeOff, internal.ModeAuto, internal.ModeHybrid:
		return true
	}
	return false
}

func (s *Settings) KeepWorkingMode() bool { return s.getBool(KeyKeepWorkingMode) }

func (s *Settings) SetKeepWorkingMode(value bool) { s.setBool(KeyKeepWorkingMode, value) }

func (s *Settings) ArchiveProcessedFiles() bool { return s.getBool(KeyArchiveProcessedFiles) }

func (s *Settings) SetArchiveProcessedFiles(value bool) {
	s.setBool(KeyArchiveProcessedFiles, value)
}

func (s *Settings) EnableFuzzyMatch() bool { return s.getBool(KeyEnableFuzzyMatch) }

func (s *Settings) SetEnableFuzzyMatch(value bool) { s.setBool(KeyEnableFuzzyMatch, value) }

func (s *Settings) getBool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(key)
}

func (s *Settings) FuzzyThreshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetFloat64(KeyFuzzyThreshold)
}

// ThresholdPercent is the fuzzy threshold on the 0-100 scale scores use.
func (s *Settings) ThresholdPercent() int {
	return int(math.Round(s.FuzzyThreshold() * 100))
}

// SetFuzzyThreshold rounds to one decimal and clamps into [0.1, 0.9].
func (s *Settings) SetFuzzyThreshold(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return s.reject(KeyFuzzyThreshold, value, errors.New("must be a number"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(KeyFuzzyThreshold, clampThreshold(value))
	return nil
}

func clampThreshold(value float64) float64 {
	value = math.Round(value*10) / 10
	return math.Min(maxFuzzyThreshold, math.Max(minFuzzyThreshold, value))
}

// MaxBackups is the retention limit; 0 means unlimited.
func (s *Settings) MaxBackups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetInt(KeyMaxBackups)
}

func (s *Settings) SetMaxBackups(value int) error {
	if value < 0 {
		return s.reject(KeyMaxBackups, value, errors.New("must be zero or a positive integer"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(KeyMaxBackups, value)
	return nil
}

// BackupInterval is in hours; 0 disables scheduled backups.
func (s *Settings) BackupInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetInt(KeyBackupInterval)
}

// SetBackupInterval accepts raw hours ("12") or a suffixed duration
// ("6h", "2d", "1w").
func (s *Settings) SetBackupInterval(value string) error {
	hours, err := util.ParseDurationHours(value)
	if err != nil {
		return s.reject(KeyBackupInterval, value, err)
	}
	return s.SetBackupIntervalHours(hours)
}

func (s *Settings) SetBackupIntervalHours(hours int) error {
	if hours < 0 {
		return s.reject(KeyBackupInterval, hours, errors.New("cannot be negative"))
	}
	if hours > util.MaxDurationHours {
		return s.reject(KeyBackupInterval, hours, fmt.Errorf("cannot exceed %s", util.FormatDurationHours(util.MaxDurationHours)))
	}
	if hours == 0 {
		s.logger.Info("automated backup disabled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(KeyBackupInterval, hours)
	return nil
}

func (s *Settings) ExportFormat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(KeyExportFormat)
}

func (s *Settings) SetExportFormat(value string) error {
	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
	if format != ExportXLSX && format != ExportCSV {
		return s.reject(KeyExportFormat, value, errors.New("must be xlsx or csv"))
	}
	s.setString(KeyExportFormat, format)
	return nil
}

func (s *Settings) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(KeyMetricsAddr)
}

func (s *Settings) Root() string       { return s.root }
func (s *Settings) ConfigPath() string { return s.path }
func (s *Settings) DBPath() string     { return filepath.Join(s.root, "Database", "mappings.db") }
func (s *Settings) LogsDir() string    { return filepath.Join(s.root, "Logs") }
func (s *Settings) BackupsDir() string { return filepath.Join(s.root, "Backups") }
func (s *Settings) InputDir() string   { return s.dir(KeyInputDir, "Input") }
func (s *Settings) OutputDir() string  { return s.dir(KeyOutputDir, "Output") }
func (s *Settings) ReviewDir() string  { return s.dir(KeyReviewDir, "Review") }
func (s *Settings) ArchiveDir() string { return s.dir(KeyArchiveDir, "Archive") }

func (s *Settings) dir(key, fallback string) string {
	s.mu.Lock()
	value := strings.TrimSpace(s.v.GetString(key))
	s.mu.Unlock()
	if value == "" {
		return filepath.Join(s.root, fallback)
	}
	if !filepath.IsAbs(value) {
		return filepath.Join(s.root, value)
	}
	return value
}

// EnsureDirs creates every data and internal folder the pipeline uses.
func (s *Settings) EnsureDirs() error {
	dirs := []string{
		s.InputDir(), s.OutputDir(), s.ReviewDir(), s.ArchiveDir(),
		filepath.Dir(s.DBPath()), s.LogsDir(), s.BackupsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

// toHours reads backup_interval from JSON, where it may be a number of hours
// or a duration string.
func toHours(v any) (int, error) {
	if s, ok := v.(string); ok {
		return util.ParseDurationHours(s)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, errors.New("cannot be negative")
	}
	if f > util.MaxDurationHours {
		return 0, fmt.Errorf("cannot exceed %s", util.FormatDurationHours(util.MaxDurationHours))
	}
	return int(f), nil
}
