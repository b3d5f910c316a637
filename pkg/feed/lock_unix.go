//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package feed

import (
	"os"
	"syscall"
)

const fileLocking = true

// lockFile takes an exclusive advisory lock on path+".lock", blocking until
// other processes release it.
func lockFile(path string) (func(), error) {
	fh, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(fh.Fd()), syscall.LOCK_EX); err != nil {
		fh.Close()
		return nil, err
	}
	return func() {
		syscall.Flock(int(fh.Fd()), syscall.LOCK_UN)
		fh.Close()
	}, nil
}
