//go:build !govips || !cgo

package compose

func Startup() error {
	return nil
}

func Shutdown() {}

func newBackend() (backend, error) {
	return stdlibBackend{}, nil
}
