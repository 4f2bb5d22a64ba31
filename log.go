package pcgw

import (
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per package that logs. Mirrors the one-backend,
// many-sub-loggers layout: every subsystem writes through the same
// rotated file and stdout, but each can have its own verbosity.
const (
	subsystemLDGR = "LDGR" // ledger
	subsystemORCL = "ORCL" // chainoracle
	subsystemMDWR = "MDWR" // middleware
	subsystemCLSR = "CLSR" // closer
	subsystemRLAY = "RLAY" // relay
	subsystemAPIS = "APIS" // pcapi
	subsystemGTWY = "GTWY" // gateway/daemon glue
)

var (
	backendLog *btclog.Backend
	logRotator *rotator.Rotator

	ldgrLog = btclog.Disabled
	orclLog = btclog.Disabled
	mdwrLog = btclog.Disabled
	clsrLog = btclog.Disabled
	rlayLog = btclog.Disabled
	apisLog = btclog.Disabled
	gtwyLog = btclog.Disabled
)

func init() {
	backendLog = btclog.NewBackend(logWriter{})
	ldgrLog = backendLog.Logger(subsystemLDGR)
	orclLog = backendLog.Logger(subsystemORCL)
	mdwrLog = backendLog.Logger(subsystemMDWR)
	clsrLog = backendLog.Logger(subsystemCLSR)
	rlayLog = backendLog.Logger(subsystemRLAY)
	apisLog = backendLog.Logger(subsystemAPIS)
	gtwyLog = backendLog.Logger(subsystemGTWY)
}

// logWriter fans writes out to stdout until InitLogRotator swaps in a
// rotating file on top of it.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// InitLogRotator opens (creating parent dirs as needed) a rotating log
// file at logFile, capped at maxSizeMB per file, and starts writing every
// subsystem's output through it in addition to stdout.
func InitLogRotator(logFile string, maxSizeMB int64) error {
	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return err
	}
	// rotator.New takes its size threshold in kilobytes.
	r, err := rotator.New(logFile, maxSizeMB*1024, false, 3)
	if err != nil {
		return err
	}
	logRotator = r
	return nil
}

// SetLogLevels applies level to every subsystem logger. Used at startup
// from the --loglevel config flag.
func SetLogLevels(level btclog.Level) {
	for _, l := range []btclog.Logger{ldgrLog, orclLog, mdwrLog, clsrLog, rlayLog, apisLog, gtwyLog} {
		l.SetLevel(level)
	}
}

// subLoggers exposes the per-subsystem loggers to sibling packages that
// construct their own components (ledger.Open, chainoracle.New, ...)
// without importing this package's internals directly.
type subLoggers struct {
	Ledger     btclog.Logger
	Oracle     btclog.Logger
	Middleware btclog.Logger
	Closer     btclog.Logger
	Relay      btclog.Logger
	API        btclog.Logger
	Gateway    btclog.Logger
}

func loggers() subLoggers {
	return subLoggers{
		Ledger:     ldgrLog,
		Oracle:     orclLog,
		Middleware: mdwrLog,
		Closer:     clsrLog,
		Relay:      rlayLog,
		API:        apisLog,
		Gateway:    gtwyLog,
	}
}

var _ io.Writer = logWriter{}
