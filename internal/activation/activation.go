package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Listen returns the listener the trigger server should serve on. When
// the process was started through systemd socket activation the first
// activated socket is used and addr is ignored; otherwise a plain TCP
// listener is opened on addr.
func Listen(addr string) (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) > 0 {
		// Extra activated sockets are not supported; serve only the first.
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		return listeners[0], nil
	}

	return net.Listen("tcp", addr)
}

// Listeners returns the systemd-activated listeners, detected via the
// LISTEN_PID and LISTEN_FDS environment variables. It returns nil when
// no socket activation is present or the activation targets a different
// process.
func Listeners() ([]net.Listener, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}

	if pid != os.Getpid() {
		// Socket activation is for a different process
		return nil, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return nil, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}

	if numFDs < 1 {
		return nil, nil
	}

	// Systemd passes file descriptors starting at fd 3
	// (0=stdin, 1=stdout, 2=stderr)
	const firstFD = 3

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		// Close the file descriptor (listener takes ownership)
		_ = file.Close()

		listeners = append(listeners, listener)
	}

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}
