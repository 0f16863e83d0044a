package grader

import (
	"errors"
	"fmt"
	"os"
)

// MissingFileError reports that a required local input does not exist.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s does not exist", e.Path)
}

// AssertFileExists returns a *MissingFileError when path does not name an
// existing regular file. URLs must never be passed here.
func AssertFileExists(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &MissingFileError{Path: path}
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return &MissingFileError{Path: path}
	}
	return nil
}

// IsMissingFile reports whether err (or anything it wraps) is a
// *MissingFileError.
func IsMissingFile(err error) bool {
	var mf *MissingFileError
	return errors.As(err, &mf)
}
