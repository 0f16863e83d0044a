package postgres

import "htmlgrader/internal/storage"

func init() {
	// registers the result-store backend factory
	storage.Register("postgres", New)
}
