package main

import (
	"context"
	"os"
	"os/signal"
)

// triggerRequests turns each delivery of sig into a trigger request. Signals
// arriving while a request is pending are coalesced.
func triggerRequests(ctx context.Context, sig os.Signal) <-chan struct{} {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, sig)

	requests := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				select {
				case requests <- struct{}{}:
				default:
				}
			}
		}
	}()
	return requests
}
