// Command famcal serves and manages the family calendar.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/famcal/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
