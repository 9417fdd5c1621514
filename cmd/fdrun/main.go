// Command fdrun executes a program with its descriptor table rearranged:
// files opened or descriptors inherited by fdrun are remapped to chosen
// numbers before the program starts.
package main

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/criyle/go-fdmap/pkg/fdmap"
	"github.com/criyle/go-fdmap/pkg/forkexec"
	"github.com/criyle/go-fdmap/pkg/memfd"
	"github.com/criyle/go-fdmap/pkg/rlimit"
)

func main() {
	app := &cli.App{
		Name:      "fdrun",
		Usage:     "run a program with remapped file descriptors",
		UsageText: "fdrun [options] prog [args...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "open",
				Usage: "open `TARGET=PATH[:ro|rw|wo]` and map it into the program (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "dup",
				Usage: "map inherited descriptor `TARGET=SOURCE` (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "close-stdio",
				Usage: "close unmapped stdin / stdout / stderr",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "working directory for the program",
			},
			&cli.BoolFlag{
				Name:  "memfd-exec",
				Usage: "copy the program into a sealed memfd and exec from it",
			},
			&cli.StringFlag{
				Name:  "seccomp",
				Usage: "apply the seccomp profile from YAML `FILE`",
			},
			&cli.Uint64Flag{
				Name:  "cpu",
				Usage: "set RLIMIT_CPU (in seconds)",
			},
			&cli.Uint64Flag{
				Name:  "nofile",
				Usage: "set RLIMIT_NOFILE",
			},
			&cli.GenericFlag{
				Name:  "fsize",
				Usage: "set RLIMIT_FSIZE (size with optional k / m / g suffix)",
				Value: new(rlimit.Size),
			},
			&cli.GenericFlag{
				Name:  "stack",
				Usage: "set RLIMIT_STACK (size with optional k / m / g suffix)",
				Value: new(rlimit.Size),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	args := ctx.Args().Slice()
	if len(args) == 0 {
		cli.ShowAppHelp(ctx)
		return cli.Exit("fdrun: no program given", 2)
	}

	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	maps := make([]fdmap.Mapping, 0, len(ctx.StringSlice("open"))+len(ctx.StringSlice("dup")))
	for _, s := range ctx.StringSlice("open") {
		m, f, err := parseOpen(s)
		if err != nil {
			return err
		}
		files = append(files, f)
		maps = append(maps, m)
	}
	for _, s := range ctx.StringSlice("dup") {
		m, err := parseDup(s)
		if err != nil {
			return err
		}
		maps = append(maps, m)
	}

	stdio := fdmap.StdioPreserve
	if ctx.Bool("close-stdio") {
		stdio = fdmap.StdioClose
	}
	set, err := fdmap.New(maps, stdio)
	if err != nil {
		return err
	}
	plan := set.Plan()
	for _, op := range plan.Ops {
		logrus.Debug("plan: ", op)
	}

	r := forkexec.Runner{
		Args:    args,
		Env:     os.Environ(),
		Plan:    plan,
		WorkDir: ctx.String("workdir"),
	}

	limits := rlimit.RLimits{
		CPU:      ctx.Uint64("cpu"),
		OpenFile: ctx.Uint64("nofile"),
		FileSize: sizeFlag(ctx, "fsize").Byte(),
		Stack:    sizeFlag(ctx, "stack").Byte(),
	}
	if r.RLimits = limits.PrepareRLimit(); len(r.RLimits) > 0 {
		logrus.Debug("rlimits: ", limits)
	}

	if path := ctx.String("seccomp"); path != "" {
		prog, err := loadProfile(path)
		if err != nil {
			return errors.Wrap(err, "failed to load seccomp profile")
		}
		r.Seccomp = prog
		r.NoNewPrivs = true
	}

	if ctx.Bool("memfd-exec") {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open program")
		}
		mf, err := memfd.DupToMemfd(filepath.Base(args[0]), f)
		f.Close()
		if err != nil {
			return errors.Wrap(err, "failed to seal program")
		}
		files = append(files, mf)
		r.ExecFile = mf.Fd()
	}

	pid, err := r.Start()
	if err != nil {
		return errors.Wrap(err, "failed to start program")
	}
	logrus.Debug("started pid ", pid)

	var ws syscall.WaitStatus
	_, err = syscall.Wait4(pid, &ws, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &ws, 0, nil)
	}
	switch {
	case err != nil:
		return errors.Wrap(err, "wait4")
	case ws.Exited():
		if status := ws.ExitStatus(); status != 0 {
			return cli.Exit("", status)
		}
	case ws.Signaled():
		return cli.Exit("fdrun: "+ws.Signal().String(), 128+int(ws.Signal()))
	}
	return nil
}

func sizeFlag(ctx *cli.Context, name string) rlimit.Size {
	if s, ok := ctx.Generic(name).(*rlimit.Size); ok && s != nil {
		return *s
	}
	return 0
}
