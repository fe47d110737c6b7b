// Command cafesync runs the authoritative coffee shop simulation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/cafesync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
