//go:build windows

package phy

// lockPort is a no-op on Windows: opening a COM port already denies
// other processes access to it, matching the cupdi original's win32
// serial.c (which never takes a separate advisory lock, unlike its
// linux/serial.c sibling).
func lockPort(name string) (func(), error) {
	return func() {}, nil
}
