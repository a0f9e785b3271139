package main

import (
	"context"
	"fmt"
	"os"

	"github.com/backkem/rcs/pkg/rcs"
	"github.com/backkem/rcs/pkg/xdm"
)

const xdmUsage = `usage: rcs-share xdm <command>
  init                          provision the presence documents
  get <path>                    print an XCAP document
  put <path> <file> <type>      upload an XCAP document
  contacts <list>               list the entries of a contact list
  add <list> <uri>              add a contact to a list
  remove <list> <uri>           remove a contact from a list`

func (a *app) runXDM(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.stderr, xdmUsage)
		return errUsage
	}
	cmd, args := args[0], args[1:]
	want := map[string]int{"init": 0, "get": 1, "put": 3, "contacts": 1, "add": 2, "remove": 2}
	n, ok := want[cmd]
	if !ok {
		return fmt.Errorf("xdm: unknown command %q", cmd)
	}
	if len(args) != n {
		fmt.Fprintln(a.stderr, xdmUsage)
		return errUsage
	}

	client, err := a.xdmClient()
	if err != nil {
		return err
	}

	switch cmd {
	case "init":
		if err := client.Initialize(ctx); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "documents ready for %s\n", client.PublicURI())
	case "get":
		body, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		a.stdout.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			fmt.Fprintln(a.stdout)
		}
	case "put":
		body, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		if err := client.Put(ctx, args[0], args[2], body); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "stored %d bytes at %s\n", len(body), args[0])
	case "contacts":
		contacts, err := client.Contacts(ctx, args[0])
		if err != nil {
			return err
		}
		for _, c := range contacts {
			fmt.Fprintln(a.stdout, c)
		}
	case "add":
		return client.AddContact(ctx, args[0], args[1])
	case "remove":
		return client.RemoveContact(ctx, args[0], args[1])
	}
	return nil
}

// xdmClient builds a client from the configuration, prompting for the
// password when none is configured and stdin is a terminal.
func (a *app) xdmClient() (*xdm.Client, error) {
	if a.configPath == "" {
		return nil, fmt.Errorf("xdm: --config is required")
	}
	cfg, err := a.loadConfig(nil)
	if err != nil {
		return nil, err
	}
	if !cfg.XDM.Enabled() {
		return nil, rcs.ErrNoXDM
	}
	if cfg.XDM.Password == "" && isTerminal() {
		pw, err := getPassword(a.stderr, cfg.XDMLogin())
		if err != nil {
			return nil, err
		}
		cfg.XDM.Password = string(pw)
	}
	lf, err := a.loggerFactory(cfg)
	if err != nil {
		return nil, err
	}
	xc := cfg.XDMClientConfig()
	xc.LoggerFactory = lf
	return xdm.NewClient(xc)
}
