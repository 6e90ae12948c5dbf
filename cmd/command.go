// Package cmd provides common command line tools for the dnscert binary.
package cmd

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

func FailOnError(err error, msg string) {
	// If there wasn't an error, return
	if err == nil {
		return
	}

	// Otherwise, print the error and fail
	log.Fatalf("[!] %s - %s", msg, err)
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals watches for SIGTERM, SIGINT and SIGHUP in the background and
// executes a callback on the first one. A second signal exits immediately
// without waiting for the callback's effects to unwind.
func CatchSignals(callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGHUP)

	go func() {
		sig := <-sigChan
		log.Printf("Caught %s. Shutting down cleanly\n", signalToName[sig])

		if callback != nil {
			callback()
		}

		sig = <-sigChan
		log.Printf("Caught %s again. Exiting immediately\n", signalToName[sig])
		os.Exit(2)
	}()
}
