// Package activation hands systemd socket-activated listeners to the webhook
// daemon, falling back to binding the configured address.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// systemd passes file descriptors starting at fd 3 (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// Listener is a socket-activated listener and the name systemd gave it
// (FileDescriptorName= in the .socket unit).
type Listener struct {
	net.Listener
	Name string
}

// Listeners returns the systemd-activated listeners announced through
// LISTEN_PID, LISTEN_FDS and LISTEN_FDNAMES. It returns nil if the process was
// not socket activated.
func Listeners() ([]Listener, error) {
	numFDs, err := activatedFDs()
	if err != nil || numFDs == 0 {
		return nil, err
	}

	names := strings.Split(os.Getenv("LISTEN_FDNAMES"), ":")

	listeners := make([]Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := firstFD + i
		name := fmt.Sprintf("systemd-socket-%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}

		file := os.NewFile(uintptr(fd), name)
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		ln, err := net.FileListener(file)
		// FileListener dups the descriptor
		_ = file.Close()
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d (%s): %w", fd, name, err)
		}

		listeners = append(listeners, Listener{Listener: ln, Name: name})
	}

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// Listen returns the socket-activated listeners if there are any, otherwise a
// single TCP listener bound to addr. activated reports which case applied.
func Listen(addr string) (listeners []net.Listener, activated bool, err error) {
	named, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(named) > 0 {
		listeners = make([]net.Listener, 0, len(named))
		for _, ln := range named {
			listeners = append(listeners, ln)
		}
		return listeners, true, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return []net.Listener{ln}, false, nil
}

// activatedFDs returns LISTEN_FDS if LISTEN_PID names this process, else 0.
func activatedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// Socket activation is for a different process
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return 0, nil
	}
	return numFDs, nil
}

func closeAll(listeners []Listener) {
	for _, ln := range listeners {
		_ = ln.Close()
	}
}
