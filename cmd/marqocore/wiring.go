package main

import (
	"fmt"
	"log"
	"os"

	"github.com/marqocore/vespacore/pkg/appmanager"
	"github.com/marqocore/vespacore/pkg/config"
	"github.com/marqocore/vespacore/pkg/indexmanager"
	"github.com/marqocore/vespacore/pkg/lock"
	"github.com/marqocore/vespacore/pkg/modelcache"
	"github.com/marqocore/vespacore/pkg/store"
)

// stack is the set of collaborators every index-lifecycle subcommand
// needs, built once from the loaded configuration.
type stack struct {
	cfg      *config.Config
	store    *store.Client
	indexes  *indexmanager.Manager
	sessions *modelcache.Cache
	logger   *log.Logger
}

// close releases resources the stack opened (the session cache's
// badger store), after the subcommand it served has finished.
func (s *stack) close() {
	if s.sessions != nil {
		_ = s.sessions.Close()
	}
}

// buildStack loads configuration from the environment (and the YAML
// file named by MARQO_CONFIG_FILE, if set) and wires the Store Client,
// Application Package Manager, lock client, and Index Manager the same
// way a long-running process would, so the CLI exercises the exact
// same lifecycle code paths as a server.
//
// The lock Coordinator is an in-process LocalCoordinator: this CLI
// talks to one store deployment at a time from a single process, so
// there is nothing else to contend with the lease.
func buildStack() (*stack, error) {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "marqocore: ", log.LstdFlags)

	storeClient := store.NewClient(store.Config{
		ConfigURL:            cfg.Store.ConfigURL,
		DocumentURL:          cfg.Store.DocumentURL,
		QueryURL:             cfg.Store.QueryURL,
		FeedConcurrency:          cfg.Store.FeedConcurrency,
		GetConcurrency:           cfg.Store.GetConcurrency,
		DeleteConcurrency:        cfg.Store.DeleteConcurrency,
		PartialUpdateConcurrency: cfg.Store.PartialUpdateConcurrency,
		FeedTimeout:          cfg.Store.FeedTimeout,
		QueryTimeout:         cfg.Store.QueryTimeout,
		ConvergencePollEvery: cfg.Store.ConvergencePollEvery,
		ConvergenceTimeout:   cfg.Store.ConvergenceTimeout,
	}, logger)

	sessions, err := modelcache.Open(modelcache.Options{
		DataDir:  cfg.AppManager.SessionCacheDir,
		InMemory: cfg.AppManager.SessionCacheDir == "",
	})
	if err != nil {
		return nil, fmt.Errorf("opening session cache: %w", err)
	}

	appMgr := appmanager.New(storeClient, nil, sessions)

	lockClient := lock.New(lock.NewLocalCoordinator(), lock.Config{
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		RetryInterval:  cfg.Lock.RetryInterval,
		LeaseTTL:       cfg.Lock.LeaseTTL,
	}, logger)

	indexMgr := indexmanager.New(storeClient, appMgr, lockClient, indexmanager.Config{
		ConvergenceTimeout: cfg.Store.ConvergenceTimeout,
	}, logger)

	return &stack{cfg: cfg, store: storeClient, indexes: indexMgr, sessions: sessions, logger: logger}, nil
}
