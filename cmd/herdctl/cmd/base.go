package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ControlCommand is embedded by every herdctl command; it carries the
// connection flags and a client dialing the daemon's control socket.
type ControlCommand struct {
	Network string `long:"ctl-network" default:"unix" description:"control server network type"`
	Address string `long:"ctl-address" default:"/var/run/herdctl.sock" description:"control server address to connect"`

	cli *http.Client
}

func (c *ControlCommand) Execute(args []string) error {
	c.cli = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				d := &net.Dialer{Timeout: 5 * time.Second}
				return d.DialContext(ctx, c.Network, c.Address)
			},
		},
		Timeout: 30 * time.Second,
	}
	return nil
}

// get issues a GET against the control API and decodes the JSON answer
// into out.
func (c *ControlCommand) get(path string, out interface{}) error {
	resp, err := c.cli.Get(c.url(path))
	if err != nil {
		return fmt.Errorf("failed to connect to %s (%s): %s", c.Address, c.Network, err)
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

// post issues a POST with a JSON body and decodes the answer into out.
func (c *ControlCommand) post(path string, in, out interface{}) error {
	body := &bytes.Buffer{}
	if in != nil {
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return err
		}
	}

	resp, err := c.cli.Post(c.url(path), "application/json", body)
	if err != nil {
		return fmt.Errorf("failed to connect to %s (%s): %s", c.Address, c.Network, err)
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ControlCommand) url(path string) string {
	host := "herdd"
	if c.Network != "unix" && c.Network != "unixpacket" {
		host = c.Address
	}
	return "http://" + host + path
}

func responseError(errors []string) error {
	if len(errors) == 0 {
		return nil
	}
	return fmt.Errorf("%v", errors)
}
