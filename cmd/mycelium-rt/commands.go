package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/mycelium/dht"
)

func NewDumpCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "dump",
		Short: "lists every record in the routing table file",
		Args:  cobra.NoArgs,
	}
	summary := c.Flags().Bool("summary", false, "print bucket occupancy instead of records")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if info, ok := statTable(cfg.StorageFile); ok {
			fmt.Fprintf(out, "%s: %s, saved %s\n", cfg.StorageFile,
				humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
		}

		if *summary {
			table, _, err := opts.openTable(nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, table.String())
			return err
		}

		nodes, err := dht.NewStore(cfg.StorageFile).Load()
		if err != nil {
			return err
		}
		return printNodes(cmd, nodes)
	}
	return c
}

func NewClosestCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "closest <target-id>",
		Short: "lists the stored nodes closest to a target id",
		Args:  cobra.ExactArgs(1),
	}
	count := c.Flags().Int("count", 0, "number of nodes to return (default k)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		target, err := dht.NodeIDFromHex(args[0])
		if err != nil {
			return err
		}
		table, _, err := opts.openTable(nil)
		if err != nil {
			return err
		}
		n := *count
		if n <= 0 {
			n = table.K()
		}
		return printNodes(cmd, table.FindClosestNodes(target, n))
	}
	return c
}

func NewAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <node-id> <ip> <port>",
		Short: "adds a node to the routing table file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dht.NodeIDFromHex(args[0])
			if err != nil {
				return err
			}
			port, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[2], err)
			}
			node, err := dht.NewNode(id[:], args[1], port)
			if err != nil {
				return err
			}

			table, store, err := opts.openTable(nil)
			if err != nil {
				return err
			}
			if !table.AddNode(node) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "not added: %s (self, or bucket %d is full)\n",
					node, table.BucketIndexOf(node.ID))
				return err
			}
			if err := store.SaveTable(table); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s to bucket %d\n", node, table.BucketIndexOf(node.ID))
			return err
		},
	}
}

func NewRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <node-id>",
		Short: "removes a node from the routing table file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dht.NodeIDFromHex(args[0])
			if err != nil {
				return err
			}
			table, store, err := opts.openTable(nil)
			if err != nil {
				return err
			}
			if !table.RemoveNode(id) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "not found: %s\n", id)
				return err
			}
			if err := store.SaveTable(table); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			return err
		},
	}
}

// NewCheckCmd treats every record in the file as last seen when the file was
// last saved. Records older than the inactivity threshold are probed with a
// TCP connect; nodes that answer are refreshed and the rest are removed.
func NewCheckCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "check",
		Short: "probes stale nodes over TCP and drops the ones that do not answer",
		Args:  cobra.NoArgs,
	}
	threshold := c.Flags().Duration("threshold", 0, "inactivity threshold (overrides health.inactivity_threshold)")
	watch := c.Flags().Bool("watch", false, "keep checking every health.interval until interrupted")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		var saved dht.TimeProvider
		if info, ok := statTable(cfg.StorageFile); ok {
			saved = fixedClock(info.ModTime())
		}
		table, store, err := opts.openTable(saved)
		if err != nil {
			return err
		}

		hc := cfg.HealthCheckConfig()
		if *threshold > 0 {
			hc.InactivityThreshold = *threshold
		}
		checker := dht.NewHealthChecker(table, dialProber{}, hc)
		out := cmd.OutOrStdout()

		if *watch {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := checker.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			checker.Stop()
			if err := store.SaveTable(table); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "stopped with %d nodes\n", table.Size())
			return err
		}

		result := checker.RunOnce(cmd.Context())
		if result.TimedOut > 0 || result.Responded > 0 {
			if err := store.SaveTable(table); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(out, "checked %d, responded %d, removed %d, %d nodes left\n",
			result.Checked, result.Responded, result.TimedOut, table.Size())
		return err
	}
	return c
}

func NewNewIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-id",
		Short: "generates a curve25519 key pair and derives its node id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var private [32]byte
			if _, err := rand.Read(private[:]); err != nil {
				return err
			}
			public, err := curve25519.X25519(private[:], curve25519.Basepoint)
			if err != nil {
				return err
			}
			var pk [32]byte
			copy(pk[:], public)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private_key: %s\n", hex.EncodeToString(private[:]))
			fmt.Fprintf(out, "public_key:  %s\n", hex.EncodeToString(pk[:]))
			_, err = fmt.Fprintf(out, "self_id:     %s\n", dht.NodeIDFromPublicKey(pk))
			return err
		},
	}
}

func printNodes(cmd *cobra.Command, nodes []dht.Node) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tFAMILY")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\tIPv%d\n", n.ID, n.Addr, n.Family())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d nodes\n", len(nodes))
	return err
}

// dialProber reports a node alive if it accepts a TCP connection.
type dialProber struct{}

func (dialProber) Ping(ctx context.Context, node dht.Node) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", node.Addr.String())
	if err != nil {
		return err
	}
	return conn.Close()
}

// fixedClock stamps loaded records with a single instant.
type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func statTable(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return info, true
}
