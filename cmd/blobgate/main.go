package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/nicolagi/blobgate/gateway"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var defaultConfigFile = os.ExpandEnv("$HOME/lib/blobgate/blobgate.config")

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "blobgate",
		Short:         "Serve a blob store over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(configFile, cmd.Flags().Changed("config"))
			if err != nil {
				log.WithFields(log.Fields{
					"err":  err,
					"path": configFile,
				}).Error("Could not load configuration")
				return err
			}
			applyFlags(cmd.Flags(), c)
			c.applyDefaultsForMissingProperties()
			if err := c.validate(); err != nil {
				log.WithField("err", err).Error("Invalid configuration")
				return err
			}
			return run(cmd.Context(), c)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", defaultConfigFile, "location of configuration file")
	flags.String("listen", "", "address to listen on (default \":3000\")")
	flags.Bool("debug", false, "log at debug level")
	flags.String("backend", "", "backend type: cache, disk, memory, bolt, sqlite, s3, dynamodb or http")
	flags.String("path", "", "location of the disk, bolt or sqlite backend")
	flags.String("cache-host", "", "host of the cache server (default \"127.0.0.1\")")
	flags.Int("cache-port", 0, "port of the cache server (default 6660)")
	return cmd
}

// applyFlags overrides the configuration with the flags given on the command
// line, which take precedence over both the file and the environment.
func applyFlags(flags *pflag.FlagSet, c *config) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			c.Listen = f.Value.String()
		case "debug":
			c.Debug, _ = flags.GetBool("debug")
		case "backend":
			c.Backend.Type = f.Value.String()
		case "path":
			c.Backend.Path = f.Value.String()
		case "cache-host":
			c.Backend.CacheHost = f.Value.String()
		case "cache-port":
			c.Backend.CachePort, _ = flags.GetInt("cache-port")
		}
	})
}

func run(ctx context.Context, c *config) error {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := agent.Listen(agent.Options{
		ShutdownCleanup: true,
	}); err != nil {
		log.WithField("err", err).Warn("Could not start gops agent")
	} else {
		defer agent.Close()
	}

	store, err := openStore(c)
	if err != nil {
		log.WithField("err", err).Error("Could not open store")
		return err
	}
	defer closeStore(store)

	var opts []gateway.Option
	if c.MaxBodySize > 0 {
		opts = append(opts, gateway.WithMaxBodySize(c.MaxBodySize))
	}
	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           gateway.New(store, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", c.Listen).Info("Listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		log.WithField("err", err).Error("Could not listen and serve")
		return err
	case <-ctx.Done():
		log.Info("Shutting down server")
	}

	// In-flight requests get some time to complete before the store is closed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("err", err).Warn("Could not shut down the server cleanly")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
