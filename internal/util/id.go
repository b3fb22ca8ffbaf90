package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random v4 UUID without dashes, optionally prefixed.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
