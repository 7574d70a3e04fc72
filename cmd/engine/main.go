// Command engine replays a YAML scenario against an in-memory engine and
// prints the resulting trades and order states.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
	"github.com/hakimelghazi/energy-exchange/internal/logging"
	"github.com/hakimelghazi/energy-exchange/internal/memstore"
)

//go:embed scenarios/basic.yaml
var defaultScenario []byte

func main() {
	path := flag.String("scenario", "", "scenario file (defaults to the built-in walkthrough)")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(*level)}))
	if err := run(*path, log, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, log *slog.Logger, out io.Writer) error {
	var src io.Reader = bytes.NewReader(defaultScenario)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	sc, err := parseScenario(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(engine.Options{Store: memstore.New(), Logger: log})
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if err := play(ctx, eng, sc, out); err != nil {
		return err
	}
	if err := report(ctx, eng, sc.users(), out); err != nil {
		return err
	}
	cancel()
	return <-done
}
