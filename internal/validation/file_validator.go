// Package validation holds the filesystem checks the command line tools
// run before handing work to the engine: measurement folders must exist
// and be readable, export targets must be writable.
package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sxmcli/internal/errs"
)

// FileValidator provides common file validation functions for the
// command line tools.
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger,
	}
}

// ValidateInputDirectory checks that a measurement folder exists and is
// a directory. An empty folder is not an error, just nothing to parse;
// when requiredPattern is set the match count is logged.
func (v *FileValidator) ValidateInputDirectory(dir string, requiredPattern string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		v.logger.Error("measurement directory does not exist",
			slog.String("directory", dir))
		return errs.Validation(fmt.Sprintf("measurement directory %s does not exist", dir), nil)
	}
	if err != nil {
		v.logger.Error("failed to stat measurement directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return errs.IOFailure(fmt.Sprintf("failed to stat directory %s", dir), err)
	}
	if !info.IsDir() {
		v.logger.Error("measurement path is not a directory",
			slog.String("path", dir))
		return errs.Validation(fmt.Sprintf("%s is not a directory", dir), nil)
	}

	if requiredPattern != "" {
		count, err := v.CountFiles(dir, requiredPattern)
		if err != nil {
			return err
		}
		if count == 0 {
			v.logger.Warn("no files matching pattern found",
				slog.String("directory", dir),
				slog.String("pattern", requiredPattern))
			return nil
		}
		v.logger.Info("measurement directory validated",
			slog.String("directory", dir),
			slog.Int("files_found", count),
			slog.String("pattern", requiredPattern))
	}

	return nil
}

// ValidateOutputDirectory ensures an export directory exists or can be
// created, and probes that it is writable before any batch starts.
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("failed to create export directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return errs.IOFailure(fmt.Sprintf("failed to create export directory %s", dir), err)
	}

	probe := filepath.Join(dir, ".write_test")
	file, err := os.Create(probe)
	if err != nil {
		v.logger.Error("export directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return errs.IOFailure(fmt.Sprintf("export directory %s is not writable", dir), err)
	}
	file.Close()
	os.Remove(probe)

	v.logger.Info("export directory validated",
		slog.String("directory", dir))
	return nil
}

// ValidateFile checks that a specific file exists and is readable.
func (v *FileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("file does not exist",
			slog.String("file", path))
		return errs.Validation(fmt.Sprintf("file %s does not exist", path), nil)
	}
	if err != nil {
		v.logger.Error("failed to stat file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return errs.IOFailure(fmt.Sprintf("failed to stat file %s", path), err)
	}
	if info.IsDir() {
		v.logger.Error("path is a directory, not a file",
			slog.String("path", path))
		return errs.Validation(fmt.Sprintf("%s is a directory, not a file", path), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		v.logger.Error("file is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return errs.IOFailure(fmt.Sprintf("file %s is not readable", path), err)
	}
	file.Close()

	v.logger.Debug("file validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateMeasurementFile checks that path is a readable file carrying
// one of the allowed measurement extensions.
func (v *FileValidator) ValidateMeasurementFile(path string, extensions []string) error {
	if err := v.ValidateFile(path); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range extensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	v.logger.Error("file does not carry a measurement extension",
		slog.String("file", path),
		slog.String("extension", ext))
	return errs.Validation(
		fmt.Sprintf("file %s does not carry a measurement extension (%s)",
			path, strings.Join(extensions, ", ")), nil)
}

// CountFiles counts files matching a pattern in a directory.
func (v *FileValidator) CountFiles(dir string, pattern string) (int, error) {
	fullPattern := filepath.Join(dir, pattern)
	matches, err := filepath.Glob(fullPattern)
	if err != nil {
		v.logger.Error("failed to count files",
			slog.String("pattern", fullPattern),
			slog.String("error", err.Error()))
		return 0, errs.Validation(fmt.Sprintf("bad file pattern %s", pattern), err)
	}

	fileCount := 0
	for _, match := range matches {
		info, err := os.Stat(match)
		if err == nil && !info.IsDir() {
			fileCount++
		}
	}

	v.logger.Debug("files counted",
		slog.String("directory", dir),
		slog.String("pattern", pattern),
		slog.Int("count", fileCount))
	return fileCount, nil
}
