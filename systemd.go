package pcgw

import (
	"github.com/btcsuite/btclog"
	"github.com/coreos/go-systemd/daemon"
)

// notifySystemdReady is a best-effort courtesy to systemd's Type=notify
// supervision: it tells systemd the gateway has finished starting up.
// It is not a substitute for real process supervision (restart policy,
// watchdog pings), which stays external to this daemon.
func notifySystemdReady(log btclog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warnf("sd_notify failed: %v", err)
		return
	}
	if !sent {
		log.Debugf("sd_notify: not running under systemd, skipping")
	}
}
