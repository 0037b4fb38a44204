package main

import (
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-vthread/config"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "print the effective configuration as TOML",
		Action: configAction,
	}
}

func configAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return fail("setup: %v", err)
	}
	defer e.close()

	b, err := config.Dump(e.cfg)
	if err != nil {
		return fail("dump: %v", err)
	}
	_, err = c.App.Writer.Write(b)
	return err
}
