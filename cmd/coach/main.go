package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/logging"
)

func run(ctx context.Context, args []string, stdout io.Writer, lookupEnv func(string) (string, bool)) (err error) {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{lookupEnv: lookupEnv} //nolint:exhaustruct // opened by the subcommands.
	defer func() {
		err = errors.Join(err, a.close())
	}()
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stdout)
	if err = root.ExecuteContext(ctx); err != nil {
		return errors.Wrap(err, "run command")
	}
	return nil
}

func main() {
	ctx := context.Background()
	// A missing .env file is fine, the environment may be set by other means.
	_ = godotenv.Load()

	bootLogger := logging.NewLogger(os.Stderr, slog.LevelInfo)
	if err := run(ctx, os.Args[1:], os.Stdout, os.LookupEnv); err != nil {
		bootLogger.LogAttrs(ctx, slog.LevelError, "coach failed", errors.SlogError(err))
		os.Exit(1)
	}
}
