package pcgw

import (
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
)

// Config is pcgwd's full set of operator-facing knobs, parsed from
// command-line flags with go-flags, in the same struct-tag style lnd.go
// uses for its own Config. No config file is read.
type Config struct {
	ListenAddr string `long:"listenaddr" description:"address:port the gateway listens on" default:"0.0.0.0:8443"`

	DBURL string `long:"dburl" description:"ledger storage DSN: file:path.db, sqlite:///path, or postgres://..." default:"file:pcgw-ledger.db"`

	UpstreamURL string `long:"upstreamurl" description:"backend LLM API base URL the relay forwards admitted requests to" required:"true"`

	ChainRPCURL string `long:"chainrpcurl" description:"JSON-RPC endpoint of the chain indexer fronting the escrow contract" required:"true"`

	DisputeWindow time.Duration `long:"disputewindow" description:"on-chain force-close dispute window" default:"72h"`
	SafetyMargin  time.Duration `long:"safetymargin" description:"how far ahead of the dispute window deadline the closer submits settlement" default:"1h"`
	ClosePoll     time.Duration `long:"closepoll" description:"how often the close state machine sweeps open channels" default:"30s"`
	OracleTTL     time.Duration `long:"oraclettl" description:"how long a chain oracle cache entry is trusted before refresh" default:"30s"`

	RateLimitPerSecond float64 `long:"ratelimitpersecond" description:"steady-state requests/sec allowed per channel" default:"20"`
	RateLimitBurst     int     `long:"ratelimitburst" description:"burst allowance per channel" default:"40"`

	LogFile    string `long:"logfile" description:"path to the rotating log file; empty disables file logging"`
	LogLevel   string `long:"loglevel" description:"trace|debug|info|warn|error|critical|off" default:"info"`

	Notify bool `long:"notify" description:"send systemd READY=1 once the gateway is listening"`
}

// LoadConfig parses args (typically os.Args[1:]) into a Config, applying
// go-flags defaults for anything unset.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLogLevel(s string) (btclog.Level, error) {
	lvl, ok := btclog.LevelFromString(s)
	if !ok {
		return 0, fmt.Errorf("unrecognized log level %q", s)
	}
	return lvl, nil
}
