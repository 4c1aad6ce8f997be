package cmd

import (
	"fmt"

	"github.com/workerherd/herdd/daemon/protocol"
)

const (
	ScaleUpCommandDescription = "Add workers to the fleet"
	ScaleUpCommandHelp        = ScaleUpCommandDescription + "\n\n" +
		"The request bypasses the scaling policy but still respects the \n" +
		"configured maximum: the number of workers actually added may be \n" +
		"lower than requested, including zero."

	ScaleDownCommandDescription = "Gracefully stop workers of the fleet"
	ScaleDownCommandHelp        = ScaleDownCommandDescription + "\n\n" +
		"The oldest running workers are stopped first. The request still \n" +
		"respects the configured minimum: the number of workers actually \n" +
		"stopped may be lower than requested, including zero."
)

type ScaleUpCommand struct {
	Args struct {
		Instances int `positional-arg-name:"instances" description:"number of workers to add" required:"yes"`
	} `positional-args:"yes"`

	ControlCommand
}

func (c *ScaleUpCommand) Execute(args []string) error {
	return scale(&c.ControlCommand, "/scale-up", c.Args.Instances, "added")
}

type ScaleDownCommand struct {
	Args struct {
		Instances int `positional-arg-name:"instances" description:"number of workers to stop" required:"yes"`
	} `positional-args:"yes"`

	ControlCommand
}

func (c *ScaleDownCommand) Execute(args []string) error {
	return scale(&c.ControlCommand, "/scale-down", c.Args.Instances, "stopping")
}

func scale(c *ControlCommand, path string, instances int, verb string) error {
	if instances < 1 {
		return fmt.Errorf("error `instances` must be a positive number, got %d", instances)
	}

	if err := c.Execute(nil); err != nil {
		return err
	}

	var r protocol.ScaleResponse
	if err := c.post(path, &protocol.ScaleRequest{Instances: instances}, &r); err != nil {
		return err
	}
	if err := responseError(r.Errors); err != nil {
		return err
	}

	fmt.Printf("%d/%d workers %s, fleet size now %d\n", r.Actual, r.Requested, verb, r.Total)
	fmt.Printf("Response time %s\n", r.Elapsed)
	return nil
}
