package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/presentation"
	"github.com/zjrosen/arbor/internal/registry"
	"github.com/zjrosen/arbor/internal/watcher"
)

var (
	exportNetwork string
	exportOut     string
	exportWatch   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export deployed addresses as a JSON address book",
	Long: `Export the registry as {chain id: {contract: address}}, the shape a
frontend imports.

With --watch the file is rewritten whenever the registry changes, so a
deploy running in another terminal updates the frontend as it goes.

Examples:
  # Print every network's addresses
  arbor export

  # Keep a frontend constants file in sync with sepolia deployments
  arbor export --network sepolia --out web/constants/addresses.json --watch`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportNetwork, "network", "n", "", "Only this network (default: every configured network)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().BoolVarP(&exportWatch, "watch", "w", false, "Rewrite --out whenever the registry changes")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	if exportWatch && exportOut == "" {
		return errors.New("--watch requires --out")
	}

	chains, err := exportChains(exportNetwork)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	// Read around the cache so --watch sees writes made by other processes.
	records := st.db.RecordRepository()

	write := func(ctx context.Context) error {
		var buf bytes.Buffer
		if err := exportAddressBook(ctx, &buf, records, chains); err != nil {
			return err
		}
		if exportOut == "" {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		return writeFile(exportOut, buf.Bytes())
	}

	if err := write(cmd.Context()); err != nil {
		return err
	}
	if !exportWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchRegistry(ctx, st.db.Path(), write)
}

// exportChains lists the chain ids to export, each once.
func exportChains(name string) ([]uint64, error) {
	if name != "" {
		policy, err := resolvePolicy(name)
		if err != nil {
			return nil, err
		}
		return []uint64{policy.ChainID}, nil
	}
	r, err := newResolver()
	if err != nil {
		return nil, fmt.Errorf("loading networks: %w", err)
	}
	policies := append([]network.Policy{r.Default()}, r.Policies()...)
	var chains []uint64
	for _, p := range policies {
		if !slices.Contains(chains, p.ChainID) {
			chains = append(chains, p.ChainID)
		}
	}
	return chains, nil
}

func exportAddressBook(ctx context.Context, w io.Writer, reg registry.Registry, chains []uint64) error {
	var all []*registry.Record
	for _, id := range chains {
		records, err := reg.List(ctx, id)
		if err != nil {
			return fmt.Errorf("listing chain %d: %w", id, err)
		}
		all = append(all, records...)
	}
	return presentation.NewFormatter(w).FormatAddressBook(presentation.NewAddressBook(all))
}

// watchRegistry calls write after every debounced change to the database
// until ctx is done.
func watchRegistry(ctx context.Context, dbPath string, write func(context.Context) error) error {
	w, err := watcher.New(watcher.DefaultConfig(dbPath))
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}
	log.Info(log.CatWatcher, "Watching registry for changes", "path", dbPath, "out", exportOut)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			if err := write(ctx); err != nil {
				log.WarnErr(log.CatWatcher, "Export failed", err, "out", exportOut)
				continue
			}
			log.Info(log.CatWatcher, "Exported addresses", "out", exportOut)
		}
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // exported addresses are public
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
