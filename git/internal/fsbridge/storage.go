// Package fsbridge builds go-git object storage on top of go-billy filesystems.
package fsbridge

import (
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const minCacheSize = 100

// NewStorage creates git storage over billyFS with an LRU object cache of
// cacheSize entries. Sizes below minCacheSize are raised to it.
func NewStorage(billyFS billy.Filesystem, cacheSize int) *filesystem.Storage {
	if cacheSize < minCacheSize {
		cacheSize = minCacheSize
	}

	objCache := cache.NewObjectLRU(cache.FileSize(cacheSize))
	return filesystem.NewStorage(billyFS, objCache)
}
