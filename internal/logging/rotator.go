package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer over a log file that rotates the file once
// it would grow past Config.MaxSize megabytes. Rotated files are named
// <name>-<timestamp><ext>, optionally gzipped, and pruned by MaxBackups
// and MaxAge.
type FileRotator struct {
	config *Config
	mu     sync.Mutex
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewFileRotator opens (or creates) cfg.FilePath for appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	r := &FileRotator{
		config: cfg,
		now:    time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	if r.size > 0 && r.size+int64(len(p)) > r.maxBytes() {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) maxBytes() int64 {
	if r.config.MaxSize <= 0 {
		return 100 * 1024 * 1024
	}
	return r.config.MaxSize * 1024 * 1024
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	rotated := r.rotatedName(r.now())
	if err := os.Rename(r.config.FilePath, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if r.config.Compress {
		if err := compressFile(rotated); err != nil {
			fmt.Fprintf(os.Stderr, "focusd: compress %s: %v\n", rotated, err)
		}
	}

	if err := r.openFile(); err != nil {
		return err
	}
	r.prune()
	return nil
}

// rotatedName returns a rotated file name for t that does not exist yet.
func (r *FileRotator) rotatedName(t time.Time) string {
	dir, name, ext := r.parts()
	stamp := t.Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, stamp, ext))
	for i := 1; exists(path) || exists(path+".gz"); i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", name, stamp, i, ext))
	}
	return path
}

func (r *FileRotator) parts() (dir, name, ext string) {
	base := filepath.Base(r.config.FilePath)
	ext = filepath.Ext(base)
	return filepath.Dir(r.config.FilePath), strings.TrimSuffix(base, ext), ext
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// compressFile gzips path into path.gz and removes path.
func compressFile(path string) error {
	input, err := os.Open(path)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)

	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}

// prune removes rotated files beyond MaxBackups and older than MaxAge days.
func (r *FileRotator) prune() {
	files, err := r.rotatedFiles()
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	infos := make([]fileInfo, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		infos = append(infos, fileInfo{path: f, modTime: info.ModTime()})
	}

	// Newest first; names carry the rotation time so they break ties.
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].modTime.Equal(infos[j].modTime) {
			return infos[i].modTime.After(infos[j].modTime)
		}
		return infos[i].path > infos[j].path
	})

	var cutoff time.Time
	if r.config.MaxAge > 0 {
		cutoff = r.now().AddDate(0, 0, -r.config.MaxAge)
	}
	for i, f := range infos {
		tooMany := r.config.MaxBackups > 0 && i >= r.config.MaxBackups
		tooOld := !cutoff.IsZero() && f.modTime.Before(cutoff)
		if tooMany || tooOld {
			os.Remove(f.path)
		}
	}
}

func (r *FileRotator) rotatedFiles() ([]string, error) {
	dir, name, ext := r.parts()
	return filepath.Glob(filepath.Join(dir, name+"-*"+ext+"*"))
}

// Close closes the rotator and its underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes any buffered data to the file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// LogFiles returns the current log file followed by the rotated ones.
func (r *FileRotator) LogFiles() ([]string, error) {
	files := []string{r.config.FilePath}
	matches, err := r.rotatedFiles()
	if err != nil {
		return files, err
	}
	sort.Strings(matches)
	return append(files, matches...), nil
}
