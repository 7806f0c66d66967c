package daemon

import (
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
)

// Ready tells systemd the daemon finished starting. Outside of systemd it
// does nothing.
func Ready() {
	sent, err := sd.SdNotify(false, sd.SdNotifyReady)
	if err != nil {
		log.WithField("error", err).Warn("unable to notify systemd")
		return
	}
	log.WithField("sent", sent).Debug("systemd notified")
}

// Watchdog pets the systemd watchdog at half its timeout until dying is
// closed. It returns at once when no watchdog is configured.
func Watchdog(dying <-chan struct{}) error {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-dying:
			return nil
		case <-ticker.C:
			if _, err := sd.SdNotify(false, sd.SdNotifyWatchdog); err != nil {
				log.WithField("error", err).Warn("unable to pet watchdog")
			}
		}
	}
}
