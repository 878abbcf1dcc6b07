// Package storage defines the notebook directory abstraction.
package storage

import "github.com/starford/ankisync/internal/models"

// Provider is the interface for notebook file operations.
type Provider interface {
	// List returns metadata for every .ipynb file under dir (relative to root).
	List(dir string) ([]models.DocumentMeta, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
}
