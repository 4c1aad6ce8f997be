package main

import (
	"fmt"
	"os"

	"github.com/workerherd/herdd/cmd/herdctl/cmd"

	"github.com/jessevdk/go-flags"
)

var (
	version = "undefined"
	build   = "undefined"
)

func main() {
	parser := flags.NewNamedParser("herdctl", flags.Default)
	parser.AddCommand("status",
		cmd.StatusCommandDescription, cmd.StatusCommandHelp,
		&cmd.StatusCommand{},
	)

	parser.AddCommand("scale-up",
		cmd.ScaleUpCommandDescription, cmd.ScaleUpCommandHelp,
		&cmd.ScaleUpCommand{},
	)

	parser.AddCommand("scale-down",
		cmd.ScaleDownCommandDescription, cmd.ScaleDownCommandHelp,
		&cmd.ScaleDownCommand{},
	)

	parser.AddCommand("stop",
		cmd.StopCommandDescription, cmd.StopCommandHelp,
		&cmd.StopCommand{},
	)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		} else {
			fmt.Println()
			parser.WriteHelp(os.Stdout)
			fmt.Printf("\nBuild information\n  commit: %s\n  date: %s\n", version, build)
			os.Exit(1)
		}
	}
}
