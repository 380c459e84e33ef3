package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// ErrOutsideVolume is returned for paths that escape the volume root.
var ErrOutsideVolume = errors.New("path is outside the volume")

// Volume stores asset files on the local file system.
type Volume struct {
	basePath string
	baseURL  string
}

// VolumeConfig configures the volume.
type VolumeConfig struct {
	BasePath string `json:"base_path" yaml:"base_path"`
	// BaseURL is the public URL the base path is served from. Empty means
	// assets have no public URL.
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// DefaultVolumeConfig returns default volume configuration.
func DefaultVolumeConfig() *VolumeConfig {
	return &VolumeConfig{
		BasePath: "./storage/assets",
	}
}

// NewVolume creates the volume directory if needed.
func NewVolume(cfg *VolumeConfig) (*Volume, error) {
	if cfg == nil {
		cfg = DefaultVolumeConfig()
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", cfg.BasePath, err)
	}
	return &Volume{
		basePath: cfg.BasePath,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// FileInfo contains metadata about a stored file.
type FileInfo struct {
	Path     string `json:"path"` // relative to the volume root
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Checksum string `json:"checksum"`
	URL      string `json:"url,omitempty"`
}

// Import copies src into the volume under filename. An existing file with the
// same name is never overwritten; a numeric suffix is added instead.
func (v *Volume) Import(src io.Reader, filename string) (*FileInfo, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid filename")
	}
	rel := v.availableName(filename)
	filePath := filepath.Join(v.basePath, rel)

	dst, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), src); err != nil {
		dst.Close()
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to copy file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info, err := v.Stat(rel)
	if err != nil {
		return nil, err
	}
	info.Checksum = hex.EncodeToString(hash.Sum(nil))
	return info, nil
}

// Read returns the contents of a stored file.
func (v *Volume) Read(rel string) ([]byte, error) {
	path, err := v.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, nil
}

// Rename moves a stored file to newFilename in the same directory and returns
// the new metadata.
func (v *Volume) Rename(rel, newFilename string) (*FileInfo, error) {
	oldPath, err := v.resolve(rel)
	if err != nil {
		return nil, err
	}
	newFilename = filepath.Base(newFilename)
	if newFilename == filepath.Base(rel) {
		return v.Stat(rel)
	}
	newRel := v.availableName(filepath.Join(filepath.Dir(rel), newFilename))
	newPath, err := v.resolve(newRel)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return nil, fmt.Errorf("failed to rename %s: %w", rel, err)
	}
	return v.Stat(newRel)
}

// Stat returns metadata for a stored file without hashing it.
func (v *Volume) Stat(rel string) (*FileInfo, error) {
	path, err := v.resolve(rel)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buffer := make([]byte, 512)
	n, _ := file.Read(buffer)
	mimeType := detectMimeType(buffer[:n], path)

	var width, height int
	if _, err := file.Seek(0, io.SeekStart); err == nil {
		if cfg, _, err := image.DecodeConfig(file); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}

	return &FileInfo{
		Path:     filepath.ToSlash(rel),
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Size:     stat.Size(),
		Width:    width,
		Height:   height,
		URL:      v.URL(rel),
	}, nil
}

// URL returns the public URL of a stored file, or "" if the volume is not
// publicly served.
func (v *Volume) URL(rel string) string {
	if v.baseURL == "" {
		return ""
	}
	return v.baseURL + "/" + strings.TrimLeft(filepath.ToSlash(rel), "/")
}

func (v *Volume) resolve(rel string) (string, error) {
	root, err := filepath.Abs(v.basePath)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, ErrOutsideVolume)
	}
	return path, nil
}

func (v *Volume) availableName(rel string) string {
	ext := filepath.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	candidate := rel
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(v.basePath, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

// detectMimeType sniffs content and falls back to the extension for types the
// sniffer does not know, such as SVG.
func detectMimeType(head []byte, path string) string {
	detected := http.DetectContentType(head)
	if strings.HasPrefix(detected, "image/") || strings.HasPrefix(detected, "video/") ||
		strings.HasPrefix(detected, "audio/") || detected == "application/pdf" {
		return detected
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	return detected
}
