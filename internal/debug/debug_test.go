package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDebugWriteMemory(t *testing.T) {
	buf := new(logStructuredBuffer)
	func() {
		Open(buf)
		defer Close()

		Write("test", "hello, world")
	}()

	r, err := buf.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(r) == 0 {
		t.Fatalf("expected compiled buffer to be non-empty")
	}
}

func TestDebugTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	func() {
		if err := OpenFile(path); err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer Close()

		Write("test", "hello, world")
		WriteBytes("test", []byte{0xde, 0xad})
		WithSource("vcpu0").Writef("exit reason %d", 12)
	}()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Size() == 0 {
		t.Fatalf("expected non-empty log file")
	}
}

func TestDebugConcurrentWriters(t *testing.T) {
	buf := new(logStructuredBuffer)
	Open(buf)
	defer Close()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 10 {
				Write("test", fmt.Sprintf("hello, world %d/%d", i, j))
			}
		}(i)
	}
	wg.Wait()

	if _, err := buf.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func BenchmarkWriteString(b *testing.B) {
	buf := new(logStructuredBuffer)
	Open(buf)
	defer Close()

	for b.Loop() {
		Write("test", "hello, world")
	}
}
