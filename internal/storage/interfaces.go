package storage

import "github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"

var (
	_ core.Storage = (*FileSystem)(nil)
	_ core.Storage = (*Memory)(nil)
)
