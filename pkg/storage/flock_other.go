//go:build !unix

package storage

import "sync"

var rootLock sync.Mutex

// lockPath serializes writers within this process only.
func lockPath(string) (func(), error) {
	rootLock.Lock()
	return rootLock.Unlock, nil
}
