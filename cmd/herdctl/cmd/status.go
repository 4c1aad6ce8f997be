package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/workerherd/herdd/daemon/protocol"

	"github.com/docker/go-units"
	"github.com/hokaccha/go-prettyjson"
	"github.com/olekukonko/tablewriter"
)

const (
	StatusCommandDescription = "Print the queue depth and the state of the worker fleet"
	StatusCommandHelp        = StatusCommandDescription + "\n\n" +
		"The output contains the observed queue depth, the fleet size with \n" +
		"its bounds, the scaling thresholds computed for the current size \n" +
		"and one line per worker process."
)

type StatusCommand struct {
	JSON bool `long:"json" description:"print the raw status response"`

	ControlCommand
}

func (c *StatusCommand) Execute(args []string) error {
	if err := c.ControlCommand.Execute(nil); err != nil {
		return err
	}

	var r protocol.StatusResponse
	if err := c.get("/status", &r); err != nil {
		return err
	}

	if c.JSON {
		out, err := prettyjson.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	statusToText(&r)
	return nil
}

func statusToText(r *protocol.StatusResponse) {
	depth := fmt.Sprintf("%d", r.Depth)
	if r.Depth < 0 {
		depth = "unknown"
	}

	fmt.Printf("Daemon: %s (%s)\n", r.State, r.Version)
	fmt.Printf("Queue %q depth: %s\n", r.Queue, depth)
	fmt.Printf("Fleet: %d total (%d running, %d starting), bounds %d..%d\n",
		r.Fleet.Total, r.Fleet.Running, r.Fleet.Starting, r.Fleet.Min, r.Fleet.Max)
	fmt.Printf("Thresholds: grow above %.1f, shrink below %.1f\n",
		r.Fleet.ScaleUpAt, r.Fleet.ScaleDownAt)

	if len(r.Workers) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Worker ID", "PID", "Status", "Started"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)

		for _, w := range r.Workers {
			line := fmt.Sprintf("%s\t%d\t%s\t%s",
				w.ID, w.PID, w.Status,
				units.HumanDuration(time.Since(w.StartedAt)),
			)
			table.Append(strings.Split(line, "\t"))
		}

		table.Render()
	}

	for _, e := range r.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s\n", e)
	}
	fmt.Printf("Response time %s\n", r.Elapsed)
}
