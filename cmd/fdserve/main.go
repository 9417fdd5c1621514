// Command fdserve runs the descriptor donation broker: it listens on a
// unix socket, accepts commands with donated descriptors and spawns
// them with the descriptors remapped to the requested numbers.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/criyle/go-fdmap/broker"
	"github.com/criyle/go-fdmap/pkg/unixsocket"
)

const defaultSocket = "/run/fdserve.sock"

func main() {
	app := &cli.App{
		Name:  "fdserve",
		Usage: "descriptor donation broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load settings from YAML `FILE`",
			},
			&cli.StringFlag{
				Name:  "socket",
				Value: defaultSocket,
				Usage: "unix socket `PATH` to listen on",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (debug, info, warning, error)",
			},
			&cli.BoolFlag{
				Name:  "close-stdio",
				Usage: "close unmapped stdio in every spawned command",
			},
		},
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func serve(ctx *cli.Context) error {
	conf, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", conf.LogLevel)
	}
	logrus.SetLevel(level)

	srv := &broker.Server{
		Env:         conf.Env,
		CloseStdio:  conf.CloseStdio,
		OutputLimit: conf.outputLimit,
	}

	// remove a stale socket from a previous run
	if fi, err := os.Stat(conf.Socket); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(conf.Socket)
	}
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: conf.Socket, Net: "unixpacket"})
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	defer os.Remove(conf.Socket)
	logrus.WithField("socket", conf.Socket).Info("listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logrus.WithField("signal", s).Info("shutting down")
		l.Close()
	}()

	for {
		conn, err := l.AcceptUnix()
		if err != nil {
			spawned, failed := srv.Stats()
			logrus.WithFields(logrus.Fields{
				"spawned": spawned,
				"failed":  failed,
			}).Info("served")
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go srv.Serve(unixsocket.FromConn(conn))
	}
}
