// Command latch reads, writes and watches settings in the stores supported
// by the latch package.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/zoobzio/capitan"
)

func main() {
	// LATCH_* variables may come from a .env file in the working directory
	_ = godotenv.Load()

	err := newRootCmd().Execute()
	capitan.Shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
