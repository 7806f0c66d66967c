package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type (
	app struct {
		server  string
		jsonout bool
		ctx     context.Context
		in      io.Reader
		out     io.Writer
	}

	// resource names an API collection, e.g. {"slice", "slices"}
	resource struct {
		name string
		path string
	}
)

var (
	slices      = resource{"slice", "slices"}
	vms         = resource{"vm", "vms"}
	hosts       = resource{"host", "hosts"}
	controllers = resource{"controller", "controllers"}
	jobs        = resource{"job", "jobs"}
)

func (a *app) client() (*cli.Client, error) {
	return cli.NewClient(a.server)
}

// ids returns args, or the ids read from stdin when there are none
func (a *app) ids(args []string) ([]string, error) {
	if len(args) == 0 {
		args = cli.Read(a.in)
	}
	for _, id := range args {
		if err := cli.ValidateID(id); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func (a *app) print(j cli.JMap) {
	j.Print(a.out, a.jsonout)
}

// printJob reports a queued job. Without --jsonout only its id is shown.
func (a *app) printJob(j cli.JMap, job string) {
	if a.jsonout {
		fmt.Fprintln(a.out, j)
		return
	}
	fmt.Fprintln(a.out, job)
}

func (a *app) list(r resource) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		c, err := a.client()
		if err != nil {
			return err
		}

		var items cli.JMapSlice
		if len(args) == 0 {
			if items, err = c.GetMany(a.ctx, r.path, r.path); err != nil {
				return err
			}
			sort.Sort(items)
		} else {
			for _, id := range args {
				if err := cli.ValidateID(id); err != nil {
					return err
				}
				item, err := c.Get(a.ctx, r.name, r.path+"/"+id)
				if err != nil {
					return err
				}
				items = append(items, item)
			}
		}

		for _, item := range items {
			a.print(item)
		}
		return nil
	}
}

func (a *app) create(r resource) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, specs []string) error {
		c, err := a.client()
		if err != nil {
			return err
		}
		for _, spec := range specs {
			body, err := cli.ParseSpec(spec)
			if err != nil {
				return err
			}
			item, _, err := c.Post(a.ctx, r.name, r.path, body)
			if err != nil {
				return err
			}
			a.print(item)
		}
		return nil
	}
}

func (a *app) modify(r resource) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		if len(args)%2 != 0 {
			return errors.Errorf("expected an even number of args, got %d", len(args))
		}
		c, err := a.client()
		if err != nil {
			return err
		}
		for i := 0; i < len(args); i += 2 {
			id, spec := args[i], args[i+1]
			if err := cli.ValidateID(id); err != nil {
				return err
			}
			body, err := cli.ParseSpec(spec)
			if err != nil {
				return err
			}
			item, err := c.Patch(a.ctx, r.name, r.path+"/"+id, body)
			if err != nil {
				return err
			}
			a.print(item)
		}
		return nil
	}
}

func (a *app) del(r resource) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		ids, err := a.ids(args)
		if err != nil {
			return err
		}
		c, err := a.client()
		if err != nil {
			return err
		}
		for _, id := range ids {
			item, job, err := c.Del(a.ctx, r.name, r.path+"/"+id)
			if err != nil {
				return err
			}
			if job != "" {
				a.printJob(item, job)
			} else {
				a.print(item)
			}
		}
		return nil
	}
}

// deploy queues the deployment of the slices
func (a *app) deploy(_ *cobra.Command, args []string) error {
	ids, err := a.ids(args)
	if err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	for _, id := range ids {
		item, job, err := c.Post(a.ctx, "deploy", "slices/"+id+"/deploy", nil)
		if err != nil {
			return err
		}
		a.printJob(item, job)
	}
	return nil
}

// children lists or adds the vms, routers or links of one slice
func (a *app) children(kind string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		if err := cli.ValidateID(args[0]); err != nil {
			return err
		}
		c, err := a.client()
		if err != nil {
			return err
		}
		endpoint := "slices/" + args[0] + "/" + kind

		if len(args) == 1 {
			items, err := c.GetMany(a.ctx, kind, endpoint)
			if err != nil {
				return err
			}
			sort.Sort(items)
			for _, item := range items {
				a.print(item)
			}
			return nil
		}

		for _, spec := range args[1:] {
			body, err := cli.ParseSpec(spec)
			if err != nil {
				return err
			}
			item, _, err := c.Post(a.ctx, kind, endpoint, body)
			if err != nil {
				return err
			}
			a.print(item)
		}
		return nil
	}
}

// link connects two devices of a slice
func (a *app) link(_ *cobra.Command, args []string) error {
	for _, id := range args[:3] {
		if err := cli.ValidateID(id); err != nil {
			return err
		}
	}
	body := cli.JMap{"start": args[1], "end": args[2]}
	if len(args) == 4 {
		qos, err := cli.ParseSpec(args[3])
		if err != nil {
			return err
		}
		body["qos"] = qos
	}

	c, err := a.client()
	if err != nil {
		return err
	}
	item, _, err := c.Post(a.ctx, "link", "slices/"+args[0]+"/links", body)
	if err != nil {
		return err
	}
	a.print(item)
	return nil
}

// action queues a lifecycle action on virtual machines
func (a *app) action(_ *cobra.Command, args []string) error {
	action := args[0]
	ids, err := a.ids(args[1:])
	if err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	for _, id := range ids {
		item, job, err := c.Post(a.ctx, action, "vms/"+id+"/"+action, nil)
		if err != nil {
			return err
		}
		a.printJob(item, job)
	}
	return nil
}

// global queues a job that is not about one slice
func (a *app) global(action string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		c, err := a.client()
		if err != nil {
			return err
		}
		item, job, err := c.Post(a.ctx, action, action, nil)
		if err != nil {
			return err
		}
		a.printJob(item, job)
		return nil
	}
}

func (a *app) programs(_ *cobra.Command, _ []string) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	programs := map[string][]string{}
	if _, err := c.Do(a.ctx, "programs", "GET", "programs", nil, &programs); err != nil {
		return err
	}
	for _, kind := range []string{"deployment", "optimization"} {
		for _, name := range programs[kind] {
			fmt.Fprintf(a.out, "%s\t%s\n", kind, name)
		}
	}
	return nil
}

func crud(a *app, r resource, short string, modify bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   r.name,
		Short: short,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [<id>...]",
			Short: "List the " + r.path,
			RunE:  a.list(r),
		},
		&cobra.Command{
			Use:   "create <spec>...",
			Short: "Create " + r.path,
			Long:  `Create new ` + r.name + `(s) using "spec"(s) as the initial values. Where "spec" is a valid json string.`,
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.create(r),
		},
		&cobra.Command{
			Use:   "delete [<id>...]",
			Short: "Delete " + r.path + ", reading ids from stdin when none are given",
			RunE:  a.del(r),
		},
	)
	if modify {
		cmd.AddCommand(&cobra.Command{
			Use:   "modify (<id> <spec>)...",
			Short: "Modify " + r.path,
			Long:  `Modify given ` + r.name + `(s). Where "spec" is a valid json string.`,
			Args:  cobra.MinimumNArgs(2),
			RunE:  a.modify(r),
		})
	}
	return cmd
}

func newRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "slicectl",
		Short:         "slicectl is the cli interface to cslicerd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&a.jsonout, "jsonout", "j", a.jsonout, "output in json")
	root.PersistentFlags().StringVarP(&a.server, "server", "s", a.server, "server address to connect to")
	root.SetOut(a.out)
	root.SetIn(a.in)

	cmdSlice := crud(a, slices, "Manage slices", true)
	cmdSlice.AddCommand(
		&cobra.Command{
			Use:   "deploy [<id>...]",
			Short: "Queue the deployment of slices",
			RunE:  a.deploy,
		},
		&cobra.Command{
			Use:   "vms <slice-id> [<spec>...]",
			Short: "List or add the virtual machines of a slice",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.children("vms"),
		},
		&cobra.Command{
			Use:   "routers <slice-id> [<spec>...]",
			Short: "List or add the virtual routers of a slice",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.children("routers"),
		},
		&cobra.Command{
			Use:   "links <slice-id>",
			Short: "List the virtual links of a slice",
			Args:  cobra.ExactArgs(1),
			RunE:  a.children("links"),
		},
		&cobra.Command{
			Use:   "link <slice-id> <start-id> <end-id> [<qos>]",
			Short: "Connect two devices of a slice",
			Args:  cobra.RangeArgs(3, 4),
			RunE:  a.link,
		},
	)

	cmdVM := &cobra.Command{
		Use:   vms.name,
		Short: "Inspect virtual machines and queue lifecycle actions",
	}
	cmdVM.AddCommand(
		&cobra.Command{
			Use:   "get <id>...",
			Short: "Show virtual machines",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.list(vms),
		},
		&cobra.Command{
			Use:   "action <start|stop|shutdown|resume|suspend> [<id>...]",
			Short: "Queue an action on virtual machines",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.action,
		},
	)

	cmdJob := &cobra.Command{
		Use:   "job <id>...",
		Short: "Show jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.list(jobs),
	}

	root.AddCommand(
		cmdSlice,
		cmdVM,
		crud(a, hosts, "Manage hosts", true),
		crud(a, controllers, "Manage remote controllers", false),
		cmdJob,
		&cobra.Command{
			Use:   "optimize",
			Short: "Queue an optimization pass",
			RunE:  a.global("optimize"),
		},
		&cobra.Command{
			Use:   "resync",
			Short: "Queue the re-establishment of pending links",
			RunE:  a.global("resync"),
		},
		&cobra.Command{
			Use:   "programs",
			Short: "List the deployment and optimization programs",
			RunE:  a.programs,
		},
	)
	return root
}
