// Command provision-pending turns pending registrations into accounts. With
// --enqueue it first loads operator-vetted registrations from a YAML file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"iepp.org/internal/app"
	"iepp.org/internal/config"
	"iepp.org/internal/directory"
	"iepp.org/internal/obs"
	"iepp.org/internal/provision"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		obs.Logger().Error("provision-pending failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("provision-pending", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the environment is read")
	enqueue := flags.String("enqueue", "", "YAML file of registrations to add before processing")
	enqueueOnly := flags.Bool("enqueue-only", false, "add registrations from --enqueue without processing")
	timeout := flags.Duration("timeout", 10*time.Minute, "overall deadline")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *enqueueOnly && *enqueue == "" {
		return errors.New("--enqueue-only requires --enqueue")
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := obs.InitLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	comps, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	if *enqueue != "" {
		n, skipped, err := enqueueFile(ctx, directory.NewPendingRegistrations(comps.Directory), *enqueue)
		if err != nil {
			return err
		}
		log.Info("registrations enqueued", "file", *enqueue, "count", n, "skipped", skipped)
		if *enqueueOnly {
			return nil
		}
	}

	rep, runErr := provision.NewConsumer(comps.Provisioner).Run(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d registrations failed", rep.Failed, rep.Seen)
	}
	return nil
}

// enqueueFile adds every registration in path. Ids already present are
// skipped so a re-run of the same file leaves completed records alone.
func enqueueFile(ctx context.Context, pending *directory.PendingRegistrations, path string) (added, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	regs, err := directory.DecodePendingYAML(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	for _, r := range regs {
		_, err := pending.Add(ctx, r)
		switch {
		case errors.Is(err, directory.ErrAlreadyQueued):
			obs.Logger().Warn("registration already queued, skipping", "id", r.ID)
			skipped++
		case err != nil:
			return added, skipped, fmt.Errorf("enqueue %s: %w", r.Email, err)
		default:
			added++
		}
	}
	return added, skipped, nil
}
