package simulation

import (
	"time"

	"github.com/sirupsen/logrus"
)

// clockHook stamps log records with the simulated time.
type clockHook struct {
	now func() time.Duration
}

func (h clockHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h clockHook) Fire(entry *logrus.Entry) error {
	entry.Data["sim_time"] = h.now()
	return nil
}
