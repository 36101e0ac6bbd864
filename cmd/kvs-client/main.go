// Command kvs-client is a small CLI for talking to kvs-server over
// the wire protocol in internal/proto, the Go analogue of the
// original implementation's `kvs-client` binary.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rust-kv/rust-kv/internal/client"
	"github.com/rust-kv/rust-kv/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "kvs-client",
		Usage: "talk to a rust-kv server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: config.DefaultServerAddr, Usage: "server address"},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "fetch a key's value",
				ArgsUsage: "<key>",
				Action:    withClient(runGet),
			},
			{
				Name:      "set",
				Usage:     "store a key's value",
				ArgsUsage: "<key> <value>",
				Action:    withClient(runSet),
			},
			{
				Name:      "rm",
				Usage:     "remove a key",
				ArgsUsage: "<key>",
				Action:    withClient(runRemove),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withClient(fn func(c *cli.Context, cl *client.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cl, err := client.Dial(c.String("addr"))
		if err != nil {
			return err
		}
		defer cl.Close()
		return fn(c, cl)
	}
}

func runGet(c *cli.Context, cl *client.Client) error {
	if c.NArg() != 1 {
		return fmt.Errorf("kvs-client: get requires exactly one key argument")
	}
	value, ok, err := cl.Get(c.Args().First())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Key not found")
	}
	fmt.Println(value)
	return nil
}

func runSet(c *cli.Context, cl *client.Client) error {
	if c.NArg() != 2 {
		return fmt.Errorf("kvs-client: set requires a key and a value argument")
	}
	return cl.Set(c.Args().Get(0), c.Args().Get(1))
}

func runRemove(c *cli.Context, cl *client.Client) error {
	if c.NArg() != 1 {
		return fmt.Errorf("kvs-client: rm requires exactly one key argument")
	}
	return cl.Remove(c.Args().First())
}
