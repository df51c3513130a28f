package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/index"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Document index.Document // required

	// Path is the file to write. Default: <ExportsDir>/<primaryKey>-<timestamp>.yaml
	Path string

	// ExportsDir holds default-named exports, usually ~/.nci/exports
	ExportsDir string
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Items      int    `json:"items"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes a document in the load-file format, so that publishing the
// exported file republishes the same document. The write goes to a temp
// file that is renamed into place, preserving any existing file on failure.
func Export(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	exportPath := input.Path
	if exportPath == "" {
		if input.ExportsDir == "" {
			return nil, errors.NewInvalidRequest("path is required")
		}
		if err := os.MkdirAll(input.ExportsDir, 0700); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
		}
		exportPath = defaultExportPath(input.ExportsDir, input.Document.PrimaryKey, now)
	}

	if err := ValidateExportPath(exportPath); err != nil {
		return nil, err
	}

	data, err := index.Marshal(exportPath, input.Document)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// On Windows, os.Rename fails if the destination exists. Fail safely
	// instead of a non-atomic delete+rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       exportPath,
		Items:      len(input.Document.Items),
		ExportedAt: now.Unix(),
	}, nil
}

// defaultExportPath generates <dir>/<primaryKey>-<timestamp>.yaml.
func defaultExportPath(dir, primaryKey string, now time.Time) string {
	name := SanitizeForFilename(primaryKey)
	return filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", name, now.Format("2006-01-02T150405")))
}
