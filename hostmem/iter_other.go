//go:build !linux

package hostmem

import "fmt"

// Iterate has no implementation outside Linux's /proc/self/maps and always
// returns an error. vthread.Init calls it, so Init fails on these
// platforms whichever hv backend is in use, the simulator included.
func Iterate(fn func(Region) error) error {
	return fmt.Errorf("hostmem: region iteration not implemented on this platform")
}
