//go:build windows

package supervisor

import (
	"os"

	"golang.org/x/sys/windows"
)

// GracefulSignals returns the OS signals that should trigger graceful
// shutdown. On Windows, only os.Interrupt is reliably delivered; SIGTERM
// does not exist.
func GracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// ProcessIsAlive reports whether proc is still running.
func ProcessIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == 259 // STILL_ACTIVE
}

// SendGracefulStop terminates the process; Windows has no SIGTERM.
func SendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
