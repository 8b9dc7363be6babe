package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"iepp.org/internal/app"
	"iepp.org/internal/auth"
	"iepp.org/internal/config"
	"iepp.org/internal/httpapi"
	"iepp.org/internal/obs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		obs.Logger().Error("iepp-api exited", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("iepp-api", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the environment is read")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := obs.InitLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	obs.Init()
	obs.SetBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	ready := httpapi.ReadyProbe{Store: comps.Ready}
	api := httpapi.New(httpapi.Deps{
		Provisioner:   comps.Provisioner,
		Resolver:      auth.NewResolver(comps.Identity),
		Authenticator: comps.Identity,
		Keys:          comps.Tokens,
		Directory:     comps.Directory,
		Ready:         ready,
		Version:       cfg.Version,
	},
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins),
	)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", cfg.Version, "in_memory", cfg.InMemory())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(ready, cfg.GRPC.ProbeInterval)
		health.Register(grpcSrv)
		go health.Run(ctx)
		go func() {
			log.Info("grpc health listening", "addr", cfg.GRPC.Addr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, fmt.Errorf("http shutdown: %w", serr))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Info("stopped")
	return err
}
