// Command prop is propd's client CLI: control operations (register/
// unregister child or parent, dump route/cache) plus direct get/set/del
// against a node's I/O socket. Grounded on teacher's cmd.go shape and
// original_source/lib/client/ctrl.c + lib/client/builtin/unix.c for the
// operations themselves.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"propd/internal/value"

	prop "propd/internal/client"

	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagNamespace string
	flagTimeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "prop",
	Short: "prop - talk to a propd node",
	Long:  "prop is propd's client CLI: it sends control datagrams (register/unregister child or parent, dump route/cache) and I/O stream requests (get/set/del) to a running propd node.",
}

func client() *prop.Client {
	return prop.New(flagNamespace, flagTimeout)
}

var ctrlCmd = &cobra.Command{
	Use:   "ctrl",
	Short: "control operations against a node's datagram socket",
}

var ctrlRegisterChildCmd = &cobra.Command{
	Use:   "register-child NAME PREFIX[,PREFIX...]",
	Short: "register NAME as a child route item, delegating to its own I/O socket",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		var prefixes []string
		if len(args) > 1 {
			prefixes = strings.Split(args[1], ",")
		}
		cacheNow, err := cmd.Flags().GetStringSlice("cache-now")
		if err != nil {
			return err
		}
		return client().RegisterChild(flagServer, name, cacheNow, prefixes)
	},
}

var ctrlUnregisterChildCmd = &cobra.Command{
	Use:   "unregister-child [NAME]",
	Short: "unregister a child route item by name, or the first item if NAME is omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		return client().UnregisterChild(flagServer, name)
	},
}

var ctrlRegisterParentCmd = &cobra.Command{
	Use:   "register-parent PARENT",
	Short: "ask the server to register itself as PARENT's child",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().RegisterParent(flagServer, args[0])
	},
}

var ctrlUnregisterParentCmd = &cobra.Command{
	Use:   "unregister-parent PARENT",
	Short: "ask PARENT to drop the server as its child",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().UnregisterParent(flagServer, args[0])
	},
}

var ctrlDumpRouteCmd = &cobra.Command{
	Use:   "dump-route",
	Short: "print the server's route table as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := client().DumpDBRoute(flagServer)
		if err != nil {
			return err
		}
		fmt.Print(string(payload))
		return nil
	},
}

var ctrlDumpCacheCmd = &cobra.Command{
	Use:   "dump-cache",
	Short: "print the server's cache contents as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := client().DumpDBCache(flagServer)
		if err != nil {
			return err
		}
		fmt.Print(string(payload))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "read a property from the server's I/O socket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := client().Unix(flagServer, flagServer, false)
		if err != nil {
			return err
		}
		defer backend.Close()
		v, dur, err := backend.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (ttl %s)\n", value.Format(v, true), dur)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "write a property to the server's I/O socket; VALUE is \"<tag>:<text>\" or a bare string",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := value.Parse(args[1])
		if err != nil {
			return err
		}
		backend, err := client().Unix(flagServer, flagServer, false)
		if err != nil {
			return err
		}
		defer backend.Close()
		return backend.Set(context.Background(), args[0], v)
	},
}

var delCmd = &cobra.Command{
	Use:   "del KEY",
	Short: "delete a property on the server's I/O socket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := client().Unix(flagServer, flagServer, false)
		if err != nil {
			return err
		}
		defer backend.Close()
		return backend.Del(context.Background(), args[0])
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagServer, "target", "t", "root", "node name to talk to")
	flags.StringVarP(&flagNamespace, "namespace", "N", "/tmp", "root directory of the node's UNIX sockets")
	flags.DurationVar(&flagTimeout, "timeout", 5*time.Second, "control round-trip timeout")

	ctrlRegisterChildCmd.Flags().StringSlice("cache-now", nil, "keys to pull into the cache immediately")

	ctrlCmd.AddCommand(ctrlRegisterChildCmd, ctrlUnregisterChildCmd, ctrlRegisterParentCmd, ctrlUnregisterParentCmd, ctrlDumpRouteCmd, ctrlDumpCacheCmd)
	rootCmd.AddCommand(ctrlCmd, getCmd, setCmd, delCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
