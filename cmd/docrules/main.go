// Command docrules runs declarative rule sets over a document store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/docrules/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
