package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trainjob/internal/api"
	"trainjob/internal/config"
	"trainjob/internal/controller"
)

// Exit codes, one per error kind so scripts can branch on the failure
// class.
const (
	exitOK           = 0
	exitUsage        = 1
	exitValidation   = 2
	exitSubmission   = 3
	exitNotFound     = 4
	exitInvalidState = 5
	exitTransient    = 6
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	cfg := config.LoadClient()
	ctl := controller.New(cfg.Endpoint, controller.Defaults{
		OutputURIPrefix: cfg.OutputURIPrefix,
		ResourceClass:   cfg.ResourceClass,
	})

	// Ctrl-C abandons a running tail without touching the remote job.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(ctx, ctl, os.Args[2:])
	case "describe":
		err = runDescribe(ctx, ctl, os.Args[2:])
	case "logs":
		err = runLogs(ctx, ctl, os.Args[2:])
	case "stop":
		err = runStop(ctx, ctl, os.Args[2:])
	case "list":
		err = runList(ctx, ctl, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitUsage)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(exitOK)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func printUsage() {
	fmt.Println("Usage: trainjob <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  submit     Submit a training job from a YAML spec file")
	fmt.Println("  describe   Show a job's current status and metadata")
	fmt.Println("  logs       Tail a job's log stream")
	fmt.Println("  stop       Request cancellation of a job")
	fmt.Println("  list       List known jobs")
}

func exitCode(err error) int {
	switch api.KindOf(err) {
	case api.KindValidation:
		return exitValidation
	case api.KindSubmission:
		return exitSubmission
	case api.KindNotFound:
		return exitNotFound
	case api.KindInvalidState:
		return exitInvalidState
	default:
		return exitTransient
	}
}

// kvFlags collects repeated -H key=value hyperparameter overrides.
type kvFlags map[string]string

func (f kvFlags) String() string { return "" }

func (f kvFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	f[k] = val
	return nil
}

func runSubmit(ctx context.Context, ctl *controller.Controller, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	specPath := fs.String("spec", "", "Path to the YAML job spec file")
	name := fs.String("name", "", "Job name (generated when omitted)")
	follow := fs.Bool("follow", false, "Tail logs after submitting")
	hp := kvFlags{}
	fs.Var(hp, "H", "Hyperparameter override, key=value (repeatable)")
	fs.Parse(args)

	if *specPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: trainjob submit -spec <file.yaml> [-name <name>] [-H key=value] [-follow]")
		os.Exit(exitUsage)
	}
	spec, err := api.ParseSpecFile(*specPath)
	if err != nil {
		return err
	}
	if len(hp) > 0 {
		if spec.Hyperparameters == nil {
			spec.Hyperparameters = make(map[string]string, len(hp))
		}
		for k, v := range hp {
			spec.Hyperparameters[k] = v
		}
	}

	handle, err := ctl.Submit(ctx, *name, *spec)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", handle.Name, handle.Status)

	if *follow {
		return tail(ctx, ctl, handle)
	}
	return nil
}

func runDescribe(ctx context.Context, ctl *controller.Controller, args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: trainjob describe <job-name>")
		os.Exit(exitUsage)
	}

	view, err := ctl.Describe(ctx, &controller.JobHandle{Name: fs.Arg(0)})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func runLogs(ctx context.Context, ctl *controller.Controller, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	history := fs.Bool("history", false, "Print the full log history and exit instead of tailing")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: trainjob logs [-history] <job-name>")
		os.Exit(exitUsage)
	}
	handle := &controller.JobHandle{Name: fs.Arg(0)}

	if *history {
		recs, err := ctl.LogHistory(ctx, handle)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			printRecord(rec)
		}
		return nil
	}
	return tail(ctx, ctl, handle)
}

func tail(ctx context.Context, ctl *controller.Controller, handle *controller.JobHandle) error {
	stream, err := ctl.TailLogs(ctx, handle)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		printRecord(rec)
	}
}

func printRecord(rec api.LogRecord) {
	fmt.Printf("%s %s\n", rec.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), rec.Line)
}

func runStop(ctx context.Context, ctl *controller.Controller, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: trainjob stop <job-name>")
		os.Exit(exitUsage)
	}

	handle := &controller.JobHandle{Name: fs.Arg(0)}
	if err := ctl.Stop(ctx, handle); err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", handle.Name, handle.Status)
	return nil
}

func runList(ctx context.Context, ctl *controller.Controller, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	jobs, err := ctl.List(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Printf("%s\t%s\t%s\n", job.Name, job.Status, job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
