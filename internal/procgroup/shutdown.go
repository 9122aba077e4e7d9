// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/streamcache/internal/metrics"
)

// Terminate stops the process group of cmd: SIGTERM, then SIGKILL if it is
// still alive after grace. waitCh must deliver the result of cmd.Wait; it is
// consumed and returned. Safe to call on a nil or unstarted command.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signal(cmd, syscall.SIGTERM, "SIGTERM")

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcExit("exit0")
		} else {
			metrics.IncProcExit("exit_nonzero")
		}
		return err
	case <-time.After(grace):
		signal(cmd, syscall.SIGKILL, "SIGKILL")
		err := <-waitCh
		if err == nil {
			metrics.IncProcExit("forced_exit0")
		} else {
			metrics.IncProcExit("forced_error")
		}
		return err
	}
}

func signal(cmd *exec.Cmd, sig syscall.Signal, name string) {
	err := Kill(cmd, sig)
	switch {
	case err == nil:
		metrics.IncProcSignal(name, "sent")
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		metrics.IncProcSignal(name, "esrch")
	default:
		metrics.IncProcSignal(name, "error")
	}
}
