package cmd

import (
	"fmt"
	"time"

	"github.com/workerherd/herdd/daemon/protocol"

	"github.com/briandowns/spinner"
)

const (
	StopCommandDescription = "Initiate the orderly shutdown of the daemon"
	StopCommandHelp        = StopCommandDescription + "\n\n" +
		"Every worker receives a graceful stop request and the daemon \n" +
		"exits once all of them are gone. Workers that outlive the \n" +
		"graceful window are force-killed by the daemon. With `--wait` \n" +
		"the command blocks until the drain finishes."
)

type StopCommand struct {
	Wait    bool `long:"wait" description:"block until the daemon is fully stopped"`
	Timeout int  `long:"timeout" default:"120" description:"seconds to wait for the drain with --wait"`

	ControlCommand
}

func (c *StopCommand) Execute(args []string) error {
	if err := c.ControlCommand.Execute(nil); err != nil {
		return err
	}

	var r protocol.StopResponse
	if err := c.post("/stop", nil, &r); err != nil {
		return err
	}
	if err := responseError(r.Errors); err != nil {
		return err
	}

	fmt.Printf("Daemon %s\n", r.State)
	if !c.Wait {
		return nil
	}

	fmt.Print("Waiting for the fleet to drain ")
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	s.Start()

	err := c.waitForStop()

	s.Stop()
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Println("Done")
	return nil
}

// waitForStop polls the status endpoint until the daemon stops answering,
// which is how a finished drain looks from outside.
func (c *StopCommand) waitForStop() error {
	deadline := time.Now().Add(time.Duration(c.Timeout) * time.Second)
	for time.Now().Before(deadline) {
		var r protocol.StatusResponse
		if err := c.get("/status", &r); err != nil {
			return nil
		}
		if r.State == protocol.Stopped.String() {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("daemon still draining after %ds", c.Timeout)
}
