package daemon

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Uninstall stops the service and removes its unit.
func Uninstall() error {
	logrus.Infof("stopping %s", unitName)

	if err := systemctl("disable", "--now", unitName); err != nil {
		return fmt.Errorf("%w. Are you root?", err)
	}

	logrus.Infof("removing %s", unitPath)

	// if the file doesn't exist, we don't need to remove it
	_, err := os.Stat(unitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", unitPath, err)
	}

	err = os.Remove(unitPath)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", unitPath, err)
	}

	return systemctl("daemon-reload")
}
