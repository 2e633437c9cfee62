package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/nicolagi/blobgate/cache/server"
	"github.com/nicolagi/blobgate/storage"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string
	var debug bool
	cmd := &cobra.Command{
		Use:           "cacheserver",
		Short:         "Serve the blobgate cache protocol over TCP",
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
			if cmd.Flags().Changed("listen") {
				c.Listen, _ = cmd.Flags().GetString("listen")
			}
			if debug {
				c.Debug = true
			}
			c.applyDefaultsForMissingProperties()
			if err := c.validate(); err != nil {
				log.WithField("err", err).Error("Invalid configuration")
				return err
			}
			return run(c)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", os.ExpandEnv("$HOME/lib/blobgate/cacheserver.config"), "location of configuration file")
	cmd.Flags().String("listen", "", "address to listen on (default \""+server.DefaultAddress+"\")")
	cmd.Flags().BoolVar(&debug, "debug", false, "log at debug level")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(c *config) error {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := agent.Listen(agent.Options{}); err != nil {
		log.WithField("err", err).Warn("Could not start gops agent")
	} else {
		defer agent.Close()
	}

	opts := []server.Option{server.WithAddress(c.Listen)}
	if c.MaxValueSize > 0 {
		opts = append(opts, server.WithMaxValueSize(c.MaxValueSize))
	}
	if c.Store == "bolt" {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
			log.WithField("err", err).Error("Could not create data directory")
			return err
		}
		store, err := storage.OpenBoltStore(c.Path)
		if err != nil {
			log.WithFields(log.Fields{
				"err":  err,
				"path": c.Path,
			}).Error("Could not open bolt store")
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.WithField("err", err).Warn("Could not close bolt store")
			}
		}()
		opts = append(opts, server.WithStore(store))
	}

	srv := server.New(opts...)
	addr, err := srv.Listen()
	if err != nil {
		log.WithField("err", err).Error("Could not listen")
		return err
	}
	log.WithFields(log.Fields{
		"addr":  addr,
		"store": c.Store,
	}).Info("Listening")

	// Serve only returns after Shutdown, which the signal handler calls.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.WithField("signal", sig).Info("Shutting down server")
		if err := srv.Shutdown(); err != nil {
			log.WithField("err", err).Warn("Could not shut down the server cleanly")
		}
	}()

	return srv.Serve()
}
