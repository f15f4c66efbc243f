//go:build !unix

package main

import "os"

// No user signal on this platform; the daemon only runs periodic cycles.
var triggerSignal os.Signal
