// Package backup writes and prunes zip bundles holding a registry snapshot
// and the current settings.
package backup

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	DBEntry       = "mappings.db"
	SettingsEntry = "settings.json"

	prefix          = "backup_"
	timestampLayout = "20060102_150405"
)

var reTag = regexp.MustCompile(`[^A-Za-z0-9-]+`)

type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

type SettingsWriter interface {
	WriteSnapshot(path string) error
}

type Bundle struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

type Service struct {
	db       Snapshotter
	settings SettingsWriter
	dir      string
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(db Snapshotter, settings SettingsWriter, dir string, logger *slog.Logger) *Service {
	return &Service{db: db, settings: settings, dir: dir, logger: logger, now: time.Now}
}

// Create writes backup_<YYYYMMDD_HHMMSS>_<tag>.zip into the backups dir and
// returns its path. The bundle only appears once it is complete.
func (s *Service) Create(ctx context.Context, tag string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp(s.dir, ".staging-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	dbCopy := filepath.Join(staging, DBEntry)
	if err := s.db.Snapshot(ctx, dbCopy); err != nil {
		return "", err
	}
	settingsCopy := filepath.Join(staging, SettingsEntry)
	if err := s.settings.WriteSnapshot(settingsCopy); err != nil {
		return "", fmt.Errorf("snapshot settings: %w", err)
	}

	target := s.bundlePath(tag)
	partial := filepath.Join(staging, filepath.Base(target))
	if err := writeZip(partial, map[string]string{DBEntry: dbCopy, SettingsEntry: settingsCopy}); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(partial, target); err != nil {
		return "", err
	}

	s.logger.Info("backup created", "bundle", filepath.Base(target))
	return target, nil
}

func (s *Service) bundlePath(tag string) string {
	tag = strings.Trim(reTag.ReplaceAllString(strings.TrimSpace(tag), "-"), "-")
	if tag == "" {
		tag = "manual"
	}
	base := prefix + s.now().Format(timestampLayout) + "_" + tag
	path := filepath.Join(s.dir, base+".zip")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d.zip", base, n))
	}
}

func writeZip(path string, entries map[string]string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := addFile(zw, name, entries[name]); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func addFile(zw *zip.Writer, name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// List returns the bundles in the backups dir, oldest first.
func (s *Service) List() ([]Bundle, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Bundle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			s.logger.Warn("stat backup", "bundle", name, "error", err)
			continue
		}
		out = append(out, Bundle{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Name < out[j].Name
		}
		return out[i].ModTime.Before(out[j].ModTime)
	})
	return out, nil
}

// Prune deletes the oldest bundles until at most keep remain. keep <= 0
// keeps everything. A bundle that cannot be deleted is logged and skipped;
// the returned error joins every such failure.
func (s *Service) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	bundles, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(bundles) <= keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, b := range bundles[:len(bundles)-keep] {
		if err := os.Remove(b.Path); err != nil {
			s.logger.Error("prune backup", "bundle", b.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		removed++
		s.logger.Info("pruned old backup", "bundle", b.Name)
	}
	return removed, errors.Join(errs...)
}
