// Package stderr diverts file descriptor 2 into a pipe while audio is
// active. ALSA, which portaudio opens underneath, prints configuration
// warnings straight to fd 2 and would interleave them with the console
// prompt. Captured lines are exposed on a channel so they can be
// logged instead; the logger itself must write to Original to avoid
// feeding its own output back into the capture.
package stderr

import (
	"bufio"
	"os"
	"strings"
	"syscall"
)

var (
	lines     = make(chan string, 100)
	origFile  *os.File
	pipeRead  *os.File
	pipeWrite *os.File
	started   bool
)

// Start redirects fd 2 into the capture pipe. Call before portaudio
// initializes. Failure leaves stderr untouched and is not fatal.
func Start() error {
	if started {
		return nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return err
	}

	origFD, err := syscall.Dup(int(os.Stderr.Fd()))
	if err != nil {
		r.Close()
		w.Close()
		return err
	}

	if err := syscall.Dup2(int(w.Fd()), int(os.Stderr.Fd())); err != nil {
		syscall.Close(origFD)
		r.Close()
		w.Close()
		return err
	}

	origFile = os.NewFile(uintptr(origFD), "stderr")
	pipeRead = r
	pipeWrite = w
	started = true

	go func() {
		scanner := bufio.NewScanner(pipeRead)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			default:
				// Full channel drops rather than blocking the reader.
			}
		}
	}()

	return nil
}

// Lines receives the captured output, one trimmed line at a time.
func Lines() <-chan string { return lines }

// Original returns the terminal's stderr as it was before Start, or
// os.Stderr when capture is not active.
func Original() *os.File {
	if origFile != nil {
		return origFile
	}
	return os.Stderr
}

// Stop restores fd 2 and closes the capture pipe.
func Stop() {
	if !started {
		return
	}

	_ = syscall.Dup2(int(origFile.Fd()), int(os.Stderr.Fd()))
	origFile.Close()
	origFile = nil

	pipeWrite.Close()
	pipeRead.Close()
	started = false
}
