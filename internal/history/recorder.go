package history

import (
	"context"
	"time"

	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/sirupsen/logrus"
)

const defaultSaveTimeout = 5 * time.Second

// Recorder saves every succeeded transition of the controllers it watches.
// Save failures are logged and never reach the operator.
type Recorder struct {
	store   Store
	log     *logrus.Logger
	timeout time.Duration
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{store: store, log: logger, timeout: defaultSaveTimeout}
}

// Attach subscribes to c and returns the unsubscribe func.
func (r *Recorder) Attach(c *lifecycle.Controller) func() {
	id := c.ID()
	return c.Subscribe(func(t lifecycle.Transition) {
		r.record(id, t)
	})
}

func (r *Recorder) record(sessionID string, t lifecycle.Transition) {
	if t.To != lifecycle.Succeeded || t.Result == nil || t.Request == nil {
		return
	}
	log := r.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"generation": t.Generation,
	})

	entry, err := NewEntry(sessionID, *t.Request, t.Result)
	if err != nil {
		log.WithError(err).Warn("Failed to build history entry")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Save(ctx, entry); err != nil {
		log.WithError(err).Warn("Failed to save prediction history")
		return
	}
	log.WithField("history_id", entry.ID).Debug("Prediction recorded")
}
