//go:build govips && cgo

package compose

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initializes libvips once per process. It is safe to call from
// several goroutines.
func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 * 1024 * 1024,
			MaxCacheSize:  0,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newBackend() (backend, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsBackend{}, nil
}
