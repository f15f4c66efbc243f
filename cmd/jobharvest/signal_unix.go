//go:build unix

package main

import (
	"os"
	"syscall"
)

// triggerSignal requests an on-demand cycle from a running daemon.
var triggerSignal os.Signal = syscall.SIGUSR1
