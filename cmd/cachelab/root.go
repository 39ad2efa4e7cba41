package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/internal/config"
)

// app carries state shared by every subcommand once PersistentPreRunE ran.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	log     cachelab.Logger
	flush   func()
	out     io.Writer
}

// flagKeys binds persistent flags onto config keys. A flag only wins over the
// file and environment when it is set on the command line.
var flagKeys = map[string]string{
	"addr":           "http.addr",
	"admin-token":    "http.admin_token",
	"db":             "storage.path",
	"cache-provider": "cache.provider",
	"tagstore":       "cache.tagstore",
	"codec":          "cache.codec",
	"bus":            "bus.backend",
	"redis-addr":     "redis.addr",
	"log-backend":    "logging.backend",
	"log-level":      "logging.level",
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: config.New(), out: out, flush: func() {}}

	root := &cobra.Command{
		Use:   "cachelab",
		Short: "Storefront cache coordination engine",
		Long: `cachelab serves a small catalog through tag-versioned, stale-while-revalidate
caches, invalidates them after every mutation and checks out stock with
all-or-nothing transactions.

Configuration is read from defaults, an optional YAML file (--config) and
CACHELAB_* environment variables, e.g. CACHELAB_STORAGE_PATH.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) { a.flush() },
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "YAML config file")
	f.String("addr", "", "HTTP listen address")
	f.String("admin-token", "", "bearer token guarding /api/admin")
	f.String("db", "", "SQLite database path")
	f.String("cache-provider", "", "entry store: ristretto, bigcache, redis or memory")
	f.String("tagstore", "", "tag version store: local or redis")
	f.String("codec", "", "entry payload codec: json, msgpack or cbor")
	f.String("bus", "", "cache-clear bus: memory or redis")
	f.String("redis-addr", "", "Redis address")
	f.String("log-backend", "", "logger: zap, logrus or slog")
	f.String("log-level", "", "debug, info, warn or error")
	for name, key := range flagKeys {
		if err := a.v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
		newProfilesCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, flush, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.flush = cfg, log, flush
	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
