package docling

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileSize matches the service's upload ceiling.
const DefaultMaxFileSize = 50 << 20 // 50 MB

// allowedExtensions mirrors the formats the conversion service accepts.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".pptx": true,
	".xlsx": true,
	".html": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tiff": true,
	".wav":  true,
	".mp3":  true,
}

// AllowedExtension reports whether the filename's extension is one the
// conversion service accepts.
func AllowedExtension(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// ValidateFile checks size and type constraints before a file goes anywhere
// near the network. Returns ErrFileTooLarge or ErrUnsupportedType wrapped
// with detail, or a plain error for I/O problems.
func ValidateFile(path string, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupportedType, path)
	}
	if info.Size() > maxSize {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, filepath.Base(path), info.Size(), maxSize)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	// Extension says PDF but the bytes disagree: reject rather than let the
	// service burn a job on it.
	if ext == ".pdf" {
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			return fmt.Errorf("detect file type: %w", err)
		}
		if !mtype.Is("application/pdf") {
			return fmt.Errorf("%w: %s has extension .pdf but content is %s", ErrUnsupportedType, filepath.Base(path), mtype.String())
		}
	}

	return nil
}
