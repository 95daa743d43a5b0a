// Command propd runs one property-service node: a prefix-routed tree of
// storage backends reachable over a UNIX control datagram socket and a
// UNIX stream socket, per spec. Grounded on teacher's cmd.go (rootCmd
// shape, persistent-flag-to-viper binding, signal-driven run/stop).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"propd/internal/config"
	"propd/internal/node"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0" // set during build with -ldflags

var rootCmd = &cobra.Command{
	Use:     "propd",
	Short:   "propd - hierarchical in-process property service",
	Long:    "propd serves a prefix-routed tree of property stores over UNIX domain sockets: a stream socket for get/set/del and a datagram socket for registering child/parent nodes.",
	Version: version,
	RunE:    runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flagBackends, err := collectBackends(cmd)
	if err != nil {
		return err
	}
	cfg.Backends = append(cfg.Backends, flagBackends...)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse loglevel: %w", err)
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "propd")

	log.WithField("config", cfg.String()).Info("starting propd")

	n, err := node.New(cfg, log)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	if err := n.Bootstrap(); err != nil {
		log.WithError(err).Warn("bootstrap registration incomplete")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigCh
		log.Info("signal received, shutting down")
		cancel()
	}()

	return n.Wait(ctx)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "show the configuration propd would start with",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		fmt.Println(cfg.String())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("propd %s\n", version)
		fmt.Printf("built with %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("loglevel", "l", "info", "log level (trace, debug, info, warn, error, fatal)")
	flags.StringP("namespace", "N", "/tmp", "root directory for this node's UNIX sockets")
	flags.StringP("name", "n", "root", "this node's own name")
	flags.BoolP("daemon", "D", false, "daemon mode (not yet supported: runs in the foreground)")
	flags.Int("thread-num", 0, "worker pool size (0 selects automatically)")
	flags.Int("thread-num-max-if-auto", config.Default().ThreadNumMaxIfAuto, "upper bound when thread-num is 0")
	flags.StringP("enable-cache", "C", "0", "cache cleaner interval, enables the cache when nonzero (seconds, or a duration like 30s)")
	flags.StringP("default-duration", "d", "1s", "default cache TTL substituted for a set with duration 0")
	flags.StringSliceP("caches", "c", nil, "keys to cache immediately once registered under a parent")
	flags.StringSliceP("prefixes", "p", []string{"*"}, "prefixes this node supports once registered under a parent")
	flags.StringSlice("children", nil, "child node names to pull into this node's route table at startup")
	flags.StringSlice("parents", nil, "parent node names to register this node under at startup")
	flags.StringArray("file", nil, "register a file backend: DIR,NAME,PREFIXES")
	flags.StringArray("unix", nil, "register a nested-unix backend: NAME,PREFIXES")

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(viper.BindPFlag("loglevel", flags.Lookup("loglevel")))
	must(viper.BindPFlag("namespace", flags.Lookup("namespace")))
	must(viper.BindPFlag("name", flags.Lookup("name")))
	must(viper.BindPFlag("daemon", flags.Lookup("daemon")))
	must(viper.BindPFlag("thread_num", flags.Lookup("thread-num")))
	must(viper.BindPFlag("thread_num_max_if_auto", flags.Lookup("thread-num-max-if-auto")))
	must(viper.BindPFlag("enable_cache", flags.Lookup("enable-cache")))
	must(viper.BindPFlag("default_duration", flags.Lookup("default-duration")))
	must(viper.BindPFlag("caches", flags.Lookup("caches")))
	must(viper.BindPFlag("prefixes", flags.Lookup("prefixes")))
	must(viper.BindPFlag("children", flags.Lookup("children")))
	must(viper.BindPFlag("parents", flags.Lookup("parents")))

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// collectBackends turns the repeatable --file/--unix flags into
// config.BackendSpec entries, mirroring propd.c's per-flag
// route_item_create loop. Called from runServer after Load so the
// parsed Config can be extended with flag-only backends viper's struct
// unmarshal can't represent as a repeatable positional list.
func collectBackends(cmd *cobra.Command) ([]config.BackendSpec, error) {
	var specs []config.BackendSpec

	files, err := cmd.Flags().GetStringArray("file")
	if err != nil {
		return nil, err
	}
	for _, raw := range files {
		spec, err := config.ParseFileSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("--file %s: %w", raw, err)
		}
		specs = append(specs, spec)
	}

	units, err := cmd.Flags().GetStringArray("unix")
	if err != nil {
		return nil, err
	}
	for _, raw := range units {
		spec, err := config.ParseUnixSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("--unix %s: %w", raw, err)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	execute()
}
