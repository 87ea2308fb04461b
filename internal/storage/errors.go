package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGenerationNotFound = errors.New("generation not found")
	ErrInvalidData        = errors.New("invalid data")
	ErrStorageInit        = errors.New("storage initialization failed")
	ErrFileOperation      = errors.New("file operation failed")
)

// validateID rejects IDs that cannot be used as a file name or document ID.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: bad generation id %q", ErrInvalidData, id)
	}
	return nil
}
