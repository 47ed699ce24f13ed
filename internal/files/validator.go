package files

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BioHazard786/meshcall/internal/errs"
)

// Container is the on-disk format of a media file.
type Container string

const (
	ContainerIVF Container = "ivf"
	ContainerOgg Container = "ogg"
)

var signatures = map[Container][]byte{
	ContainerIVF: []byte("DKIF"),
	ContainerOgg: []byte("OggS"),
}

// MediaFile holds information about a file standing in for a capture device
type MediaFile struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	Container Container
}

// ValidateMediaFiles checks every non-empty path in paths against the
// container it must hold and reports all failures at once.
func ValidateMediaFiles(paths map[string]string, want map[string]Container) (map[string]MediaFile, error) {
	result := make(map[string]MediaFile, len(paths))
	var problems []string

	for device, path := range paths {
		if path == "" {
			continue
		}
		info, err := ValidateMediaFile(path, want[device])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", device, err))
			continue
		}
		result[device] = info
	}

	if len(problems) > 0 {
		return nil, errs.WrapError("validate media", errs.ErrInvalidFile, joinErrors(problems))
	}
	return result, nil
}

// ValidateMediaFile checks that path is a readable, non-empty regular file
// whose header matches container.
func ValidateMediaFile(path string, container Container) (MediaFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return MediaFile{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return MediaFile{}, fmt.Errorf("%s: file does not exist", path)
		}
		return MediaFile{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return MediaFile{}, fmt.Errorf("%s: is a directory", path)
	}

	if stat.Size() == 0 {
		return MediaFile{}, fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return MediaFile{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	defer file.Close()

	if sig, ok := signatures[container]; ok {
		header := make([]byte, len(sig))
		if _, err := io.ReadFull(file, header); err != nil || !bytes.Equal(header, sig) {
			return MediaFile{}, fmt.Errorf("%s: not an %s file", path, container)
		}
	}

	return MediaFile{
		Path:      absPath,
		Name:      filepath.Base(absPath),
		Size:      stat.Size(),
		Container: container,
	}, nil
}

// joinErrors joins multiple error messages with newlines
func joinErrors(problems []string) string {
	var result strings.Builder
	for i, p := range problems {
		if i > 0 {
			result.WriteString("\n  - ")
		}
		result.WriteString(p)
	}
	return result.String()
}
