// Command mycelium-rt inspects and edits a persisted routing table file.
//
// Usage:
//
//	mycelium-rt new-id
//	mycelium-rt --config mycelium.yaml add <node-id> <ip> <port>
//	mycelium-rt --config mycelium.yaml dump
//	mycelium-rt --config mycelium.yaml closest <target-id> --count 8
//	mycelium-rt --config mycelium.yaml check --threshold 30m
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/mycelium/dht"
	"github.com/opd-ai/mycelium/internal/config"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	file       string
	selfID     string
	logLevel   string
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	c := &cobra.Command{
		Use:           "mycelium-rt",
		Short:         "inspect and edit a persisted DHT routing table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVar(&opts.configPath, "config", "mycelium.yaml", "path to the YAML config")
	c.PersistentFlags().StringVar(&opts.file, "file", "", "routing table file (overrides storage_file)")
	c.PersistentFlags().StringVar(&opts.selfID, "self", "", "local node id in hex (overrides self_id)")
	c.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides log_level)")

	c.AddCommand(
		NewDumpCmd(opts),
		NewClosestCmd(opts),
		NewAddCmd(opts),
		NewRemoveCmd(opts),
		NewCheckCmd(opts),
		NewNewIDCmd(),
	)
	return c
}

// loadConfig reads the config file and applies flag overrides.
func (o *rootOptions) loadConfig() (config.Config, error) {
	c, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.file != "" {
		c.StorageFile = o.file
	}
	if o.selfID != "" {
		c.SelfID = o.selfID
	}
	if o.logLevel != "" {
		c.LogLevel = o.logLevel
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}

	level, _ := logrus.ParseLevel(c.LogLevel)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	return c, nil
}

// openTable builds a routing table for the configured identity and seeds it
// from the storage file. Loaded records take their LastSeen from loaded, or
// from the system clock when it is nil.
func (o *rootOptions) openTable(loaded dht.TimeProvider) (*dht.RoutingTable, *dht.Store, error) {
	c, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	self, ok := c.NodeID()
	if !ok {
		return nil, nil, fmt.Errorf("a local node id is required: set self_id or pass --self")
	}

	table := dht.NewRoutingTable(self, c.K)
	store := dht.NewStoreWithTimeProvider(c.StorageFile, loaded)
	if _, err := store.LoadInto(table); err != nil {
		return nil, nil, err
	}
	return table, store, nil
}
