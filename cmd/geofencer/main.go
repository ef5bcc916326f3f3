// Command geofencer manages persisted geofences and runs the coordinator.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/geofencer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
