// Command pcctl is the operator/admin CLI for a running pcgwd instance: it
// talks to the gateway's own public API (/pc/state, /pc/validate) the same
// way lncli talks to lnd's RPC, just over plain HTTP/JSON instead of gRPC.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "pcctl"
	app.Usage = "inspect and probe a running pcgwd gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "http://127.0.0.1:8443",
			Usage: "base URL of the pcgwd instance to talk to",
		},
	}
	app.Commands = []cli.Command{
		stateCommand,
		validateCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pcctl:", err)
		os.Exit(1)
	}
}

var stateCommand = cli.Command{
	Name:      "state",
	Usage:     "show a channel's current ledger state",
	ArgsUsage: "channel-name",
	Action: func(c *cli.Context) error {
		name := c.Args().First()
		if name == "" {
			return fmt.Errorf("channel-name argument required")
		}

		resp, err := http.Get(c.GlobalString("rpcserver") + "/pc/state/" + name)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var state map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("gateway returned %s: %v", resp.Status, state)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"field", "value"})
		for _, k := range []string{"name", "sender", "receiver", "added_balance", "withdrawn_balance", "current_spent", "soft_closed"} {
			t.AppendRow(table.Row{k, state[k]})
		}
		t.Render()
		return nil
	},
}

var validateCommand = cli.Command{
	Name:      "validate",
	Usage:     "dry-run validate a base64 X-Payment-Channel-State header against the live ledger",
	ArgsUsage: "base64-header",
	Action: func(c *cli.Context) error {
		header := c.Args().First()
		if header == "" {
			return fmt.Errorf("base64-header argument required")
		}

		body, err := json.Marshal(map[string]string{"header": header})
		if err != nil {
			return err
		}

		resp, err := http.Post(c.GlobalString("rpcserver")+"/pc/validate", "application/json", bytesReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"field", "value"})
		for k, v := range out {
			t.AppendRow(table.Row{k, v})
		}
		t.Render()
		return nil
	},
}
