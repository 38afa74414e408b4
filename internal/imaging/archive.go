package imaging

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/raptorhab/internal/fsutil"
	"github.com/banshee-data/raptorhab/internal/security"
)

// Archive writes completed images to disk, one directory per flight. The
// payload camera produces WebP, so files are named image_<id>_<unix>.webp.
type Archive struct {
	fs  fsutil.FileSystem
	dir string
}

// NewArchive returns an archive rooted at dir.
func NewArchive(fsys fsutil.FileSystem, dir string) *Archive {
	return &Archive{fs: fsys, dir: dir}
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// FlightDir returns the directory holding a flight's images.
func (a *Archive) FlightDir(flightID string) string {
	return filepath.Join(a.dir, security.SanitizeFilename(flightID))
}

// Save writes img and returns the path written.
func (a *Archive) Save(flightID string, img *Image) (string, error) {
	dir := a.FlightDir(flightID)
	if err := a.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("image_%d_%d.webp", img.ID, img.Completed.Unix()))
	if err := a.fs.WriteFile(path, img.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image %d: %w", img.ID, err)
	}
	return path, nil
}

// Files lists the image files saved for a flight.
func (a *Archive) Files(flightID string) ([]string, error) {
	dir := a.FlightDir(flightID)
	if !a.fs.Exists(dir) {
		return nil, nil
	}
	return a.fs.List(dir)
}
