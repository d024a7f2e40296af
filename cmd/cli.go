package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/codegangsta/cli"
	"github.com/sirupsen/logrus"

	client "github.com/jsp-lqk/linepipe"
	"github.com/jsp-lqk/linepipe/internal"
	"github.com/jsp-lqk/linepipe/internal/kvtest"
)

var log = internal.NewContextLogger("main")

func main() {
	app := cli.NewApp()

	app.Name = "linepipe"
	app.Usage = "talk to a line protocol key value server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:   "host",
			Value:  "127.0.0.1",
			Usage:  "server host",
			EnvVar: "LINEPIPE_HOST",
		},
		cli.IntFlag{
			Name:   "port, p",
			Value:  client.DefaultPort,
			Usage:  "server port",
			EnvVar: "LINEPIPE_PORT",
		},
		cli.BoolFlag{
			Name:  "reconnect",
			Usage: "redial when the server hangs up",
		},
		cli.BoolFlag{
			Name:  "quote",
			Usage: "quote arguments that contain whitespace",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "warn",
			Usage: "debug, info, warn or error",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "set",
			Usage:     "store a value",
			ArgsUsage: "<key> <value>",
			Before:    requireArgs(2),
			Action:    runCommand("SET"),
		},
		{
			Name:      "get",
			Usage:     "read a value",
			ArgsUsage: "<key>",
			Before:    requireArgs(1),
			Action:    runCommand("GET"),
		},
		{
			Name:      "append",
			Usage:     "append to a value",
			ArgsUsage: "<key> <value>",
			Before:    requireArgs(2),
			Action:    runCommand("APPEND"),
		},
		{
			Name:      "strlen",
			Usage:     "length of a value",
			ArgsUsage: "<key>",
			Before:    requireArgs(1),
			Action:    runCommand("STRLEN"),
		},
		{
			Name:      "incr",
			Usage:     "increment a counter",
			ArgsUsage: "<key>",
			Before:    requireArgs(1),
			Action:    runCommand("INCR"),
		},
		{
			Name:      "send",
			Usage:     "send any command",
			ArgsUsage: "<NAME> [args...]",
			Before:    requireArgs(1),
			Action:    sendCommand,
		},
		{
			Name:   "demo",
			Usage:  "run a short session of commands and print the replies",
			Action: demo,
		},
		{
			Name:  "serve",
			Usage: "run a local server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Value: net.JoinHostPort("0.0.0.0", strconv.Itoa(client.DefaultPort)),
					Usage: "address to listen on",
				},
			},
			Action: serve,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireArgs(n int) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if len(c.Args()) < n {
			return fmt.Errorf("%s needs %d argument(s)", c.Command.Name, n)
		}
		return nil
	}
}

func connect(c *cli.Context) (*client.Conn, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	conn := client.NewConn(cfg.options()...)
	if err := conn.Connect(context.Background(), cfg.Host, cfg.Port); err != nil {
		return nil, err
	}
	return conn, nil
}

// ACTIONS

func runCommand(name string) func(*cli.Context) error {
	return func(c *cli.Context) error {
		return send(c, name, c.Args()...)
	}
}

func sendCommand(c *cli.Context) error {
	return send(c, c.Args().First(), c.Args().Tail()...)
}

func send(c *cli.Context, name string, args ...string) error {
	conn, err := connect(c)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	r, err := conn.SendCommand(context.Background(), name, args...)
	if err != nil {
		return err
	}
	fmt.Println(r)
	return nil
}

// demo issues its commands back to back without waiting, so they pipeline over the
// one connection and still print in order.
func demo(c *cli.Context) error {
	conn, err := connect(c)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	steps := [][]string{
		{"SET", "name", "linepipe"},
		{"GET", "name"},
		{"APPEND", "name", "-client"},
		{"GET", "name"},
		{"STRLEN", "name"},
		{"INCR", "visits"},
		{"INCR", "visits"},
		{"RPUSH", "tweets", "first"},
		{"RPUSH", "tweets", "second"},
		{"LLEN", "tweets"},
		{"LPOP", "tweets"},
		{"EXPIRE", "name", "60"},
		{"TTL", "name"},
		{"GET", "missing"},
	}
	chs := make([]<-chan client.Response, len(steps))
	for i, s := range steps {
		chs[i] = conn.Dispatch(s[0], s[1:]...)
	}

	var failed error
	for i, ch := range chs {
		r := <-ch
		if r.Error != nil {
			fmt.Printf("%v: error: %v\n", steps[i], r.Error)
			failed = errors.Join(failed, r.Error)
			continue
		}
		fmt.Printf("%v: %s\n", steps[i], r.Value)
	}
	return failed
}

func serve(c *cli.Context) error {
	if lvl, err := logrus.ParseLevel(c.GlobalString("log-level")); err == nil {
		logrus.SetLevel(lvl)
	}
	if logrus.GetLevel() < logrus.InfoLevel {
		logrus.SetLevel(logrus.InfoLevel)
	}

	srv, err := kvtest.NewServerAt(c.String("listen"))
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.InFunc("serve").Infof("received %s, shutting down", s)
	srv.Shutdown()
	return nil
}
