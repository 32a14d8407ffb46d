// Package gopool provides a shared goroutine pool for background work that
// should not spawn unbounded goroutines, such as speculative code analysis.
package gopool

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	// Init a instance pool when importing ants.
	defaultPool, _ = ants.NewPool(ants.DefaultAntsPoolSize, ants.WithExpiryDuration(10*time.Second))
)

// Submit submits a task to pool.
func Submit(task func()) error {
	return defaultPool.Submit(task)
}

// Running returns the number of the currently running goroutines.
func Running() int {
	return defaultPool.Running()
}

// Release closes the default pool.
func Release() {
	defaultPool.Release()
}
