// Command trustlayer runs the local sanitize service and a headless guard.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
