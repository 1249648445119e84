package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/meshcredit/creditnode/wire"
)

const (
	defaultConfigFilename  = "creditnode.conf"
	defaultDataDirname     = "data"
	defaultLogFilename     = "creditnode.log"
	defaultDBFilename      = "creditnode.db"
	defaultListenPort      = "9876"
	defaultMaxLogFileSize  = 10
	defaultMaxLogFiles     = 3
	defaultKeepaliveTicks  = wire.DefaultKeepaliveTicks
	defaultTicksToRekey    = wire.DefaultTicksToRekey
	defaultTickMS          = 1000
	defaultIndexTimeoutTks = 30
)

func defaultHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, ".creditnode")
}

// friendConfig is one `--friend` entry: a public key (hex) plus the relay
// addresses router.AddFriend needs to dial or accept that friend on.
type friendConfig struct {
	PublicKey string   `long:"pubkey" description:"hex-encoded friend public key"`
	Relays    []string `long:"relay" description:"host:port this friend can be reached at (may be repeated)"`
}

// indexServerConfig names one downstream index server this node floods its
// own capacity mutations to and requests routes from (spec.md §6).
type indexServerConfig struct {
	Address string `long:"address" description:"host:port of the index server"`
}

// config is this node's full startup configuration, parsed from the command
// line and an optional ini file the same way cmd/lnd/main.go's daemon does
// (go-flags, long-form flags with a description tag per field).
type config struct {
	DataDir    string `long:"datadir" description:"directory to store the database and identity seed in"`
	LogDir     string `long:"logdir" description:"directory to write log files to"`
	ConfigFile string `long:"configfile" description:"path to a config file"`

	ListenAddress string `long:"listen" description:"host:port to accept incoming friend connections on"`

	DebugLevel string `long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical"`

	TickMS            uint32 `long:"tickms" description:"milliseconds per injected timer tick"`
	KeepaliveTicks    uint32 `long:"keepaliveticks" description:"ticks without an inbound frame before a peer is considered dead"`
	TicksToRekey      uint32 `long:"tickstorekey" description:"ticks between forced session rekeys"`
	IndexTimeoutTicks uint32 `long:"indextimeoutticks" description:"ticks an index server may go without a fresh time-hash before it's reported stale"`

	Currencies []string `long:"currency" description:"currency this node accepts on new friend channels (may be repeated)"`

	Friends      []friendConfig      `group:"friend" long:"friend"`
	IndexServers []indexServerConfig `group:"indexserver" long:"indexserver"`
}

func defaultConfig() config {
	return config{
		DataDir:           filepath.Join(defaultHomeDir(), defaultDataDirname),
		LogDir:            defaultHomeDir(),
		ConfigFile:        filepath.Join(defaultHomeDir(), defaultConfigFilename),
		ListenAddress:     ":" + defaultListenPort,
		DebugLevel:        "info",
		TickMS:            defaultTickMS,
		KeepaliveTicks:    defaultKeepaliveTicks,
		TicksToRekey:      defaultTicksToRekey,
		IndexTimeoutTicks: defaultIndexTimeoutTks,
	}
}

// loadConfig parses the command line (and, if present, the config file it
// points at) into cfg, the same two-pass flow daemon.LndMain uses: a first
// pass just to resolve -configfile, then flags.IniParse followed by a
// second command-line pass so flags always win over the file.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	preParser := flags.NewParser(&cfg, flags.Default|flags.IgnoreUnknown)
	if _, err := preParser.Parse(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		if err := flags.IniParse(cfg.ConfigFile, &cfg); err != nil {
			return nil, err
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creditnode: creating data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creditnode: creating log dir: %w", err)
	}

	return &cfg, nil
}

func (c *config) dbPath() string {
	return filepath.Join(c.DataDir, defaultDBFilename)
}

func (c *config) seedPath() string {
	return filepath.Join(c.DataDir, "identity.seed")
}

func (c *config) logPath() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}
