//go:build linux

package hostmem

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/akaros/vmm-akaros/hv"
)

// Iterate walks /proc/self/maps and calls fn once per mapped region found
// there, in file order. It mirrors the shape of hv's process_region_iter
// collaborator verb: (start, size, protections).
func Iterate(fn func(Region) error) error {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return fmt.Errorf("hostmem: open /proc/self/maps: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		region, ok, err := parseMapsLine(scanner.Text())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(region); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// parseMapsLine parses one /proc/self/maps line of the form:
//
//	7f1234560000-7f1234561000 rw-p 00000000 00:00 0   [heap]
//
// Regions with no read permission (pure guard pages) are skipped; they
// carry no address space an identity-mapped guest could usefully touch.
func parseMapsLine(line string) (Region, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Region{}, false, nil
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Region{}, false, fmt.Errorf("hostmem: malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Region{}, false, fmt.Errorf("hostmem: bad start address: %w", err)
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Region{}, false, fmt.Errorf("hostmem: bad end address: %w", err)
	}

	perms := fields[1]
	var prot hv.Protection
	if len(perms) >= 3 {
		if perms[0] == 'r' {
			prot |= hv.ProtRead
		}
		if perms[1] == 'w' {
			prot |= hv.ProtWrite
		}
		if perms[2] == 'x' {
			prot |= hv.ProtExec
		}
	}
	if prot&hv.ProtRead == 0 {
		return Region{}, false, nil
	}

	return Region{HostStart: start, Size: end - start, Protections: prot}, true, nil
}

// pageSize reports the host's base page size. Iterate does not check
// region bounds against it; mappings the kernel itself creates are always
// page-aligned.
func pageSize() uint64 {
	return uint64(unix.Getpagesize())
}
