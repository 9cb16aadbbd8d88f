package storage

import (
	"path/filepath"

	"github.com/google/uuid"
)

const CartesDir = "cartes"

// CartePath returns a fresh relative path for a plan image. The client supplied
// filename is never used so that uploads cannot collide or escape the directory.
func CartePath(ext string) string {
	return filepath.ToSlash(filepath.Join(CartesDir, uuid.New().String()+"."+ext))
}
