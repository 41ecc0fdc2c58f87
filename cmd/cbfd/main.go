// Command cbfd runs a standalone compact block filter manager against a
// local block tree, for demonstration and integration testing. Header sync
// and peer connection management are assumed to be wired in by an embedder;
// this binary reads an optional TOML config (named by the -config flag),
// opens and verifies the filter-header store, and initializes a manager. It
// does not deliver peer messages or timer ticks to the manager.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btclog"
	"gopkg.in/urfave/cli.v1"

	"github.com/btccbf/cbfd/blocktree"
	"github.com/btccbf/cbfd/cbf"
	"github.com/btccbf/cbfd/filter"
)

var (
	gitCommit = ""
	gitDate   = ""
	app       *cli.App
)

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

func init() {
	app = cli.NewApp()
	app.Name = "cbfd"
	app.Usage = "BIP 157/158 compact block filter manager"
	app.Version = fmt.Sprintf("%s-%s", gitCommit, gitDate)
	app.Flags = []cli.Flag{configFileFlag}
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := defaultConfig()
	if path := ctx.String(configFileFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return err
		}
	}

	network, err := parseNetwork(cfg.Network)
	if err != nil {
		return err
	}

	backend := btclog.NewBackend(os.Stdout).Logger("CBFD")
	level, _ := btclog.LevelFromString(cfg.LogLevel)
	backend.SetLevel(level)
	filter.UseLogger(backend)

	store, err := filter.OpenLevelStore(filepath.Join(cfg.DataDir, "filters"), network)
	if err != nil {
		return fmt.Errorf("opening filter store: %w", err)
	}
	defer store.Close()

	cache, err := filter.From(store, network)
	if err != nil {
		return fmt.Errorf("loading filter cache: %w", err)
	}
	if err := cache.Verify(); err != nil {
		return fmt.Errorf("filter cache failed verification: %w", err)
	}

	tree := blocktree.NewMemory(filter.Genesis(network).Hash)
	upstream := newLoggingUpstream(backend)
	mgr := cbf.New(cbf.Config{RequestTimeout: cfg.RequestTimeout}, cfg.RNGSeed, cache, upstream)

	fmt.Printf("cbfd: started on %s, filter height %d, tree height %d\n", network, cache.Height(), tree.Height())
	mgr.Initialize(time.Now())

	select {}
}
