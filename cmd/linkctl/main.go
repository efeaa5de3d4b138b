// Command linkctl submits links and searches to a linkarchive server and
// waits for the result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/podushkina/linkarchive/internal/client"
	"github.com/podushkina/linkarchive/internal/task"
)

const usage = `usage: linkctl [-server URL] [-timeout D] [-poll D] <command> [args]

commands:
  add -d DESCRIPTION LINK   archive LINK under DESCRIPTION
  search TEXT               search archived links
  status ID                 show a task's status
  cancel ID                 cancel a running task
`

func main() {
	server := flag.String("server", envOr("LINKARCHIVE_SERVER", "http://localhost:5003"), "server base URL")
	timeout := flag.Duration("timeout", 10*time.Minute, "how long to wait for a task")
	poll := flag.Duration("poll", 0, "poll interval when the server sends no Retry-After")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(*server, nil)
	if *poll > 0 {
		c.SetPollInterval(*poll)
	}
	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "linkctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		desc := fs.String("d", "", "description of the link")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			return fmt.Errorf("add needs exactly one link")
		}
		if *desc == "" {
			return fmt.Errorf("add needs a description (-d)")
		}
		loc, err := c.AddLink(ctx, fs.Arg(0), *desc)
		if err != nil {
			return err
		}
		return wait(ctx, c, loc)

	case "search":
		if len(args) != 1 {
			return fmt.Errorf("search needs exactly one query")
		}
		loc, err := c.Search(ctx, args[0])
		if err != nil {
			return err
		}
		return wait(ctx, c, loc)

	case "status":
		if len(args) != 1 {
			return fmt.Errorf("status needs a task id")
		}
		st, _, err := c.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printStatus(st)

	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("cancel needs a task id")
		}
		return c.Cancel(ctx, args[0])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func wait(ctx context.Context, c *client.Client, loc string) error {
	fmt.Fprintln(os.Stderr, "submitted:", loc)
	st, err := c.Wait(ctx, loc)
	if err != nil {
		return err
	}
	if st.Status == task.StatusCancelled {
		return fmt.Errorf("task %s was cancelled", loc)
	}
	return printStatus(st)
}

func printStatus(st client.Status) error {
	var out bytes.Buffer
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = os.Stdout.Write(out.Bytes())
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
