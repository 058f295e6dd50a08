package session

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/syncwatch/pkg/transfer"
)

// reportResult logs every file handled during a pass, and reports each
// failure.
func (s *Session) reportResult(res transfer.Result) {
	for _, outcome := range res.Outcomes {
		s.logOutcome(outcome)
	}

	for _, err := range res.Failures {
		s.cfg.Reporter.Error(err, "File transfer failed")
	}

	if len(res.Outcomes) != 0 || len(res.Failures) != 0 {
		s.log.WithFields(logrus.Fields{
			"files":    len(res.Outcomes),
			"failures": len(res.Failures),
		}).Info("Synchronized")
	}
}

func (s *Session) logOutcome(outcome transfer.Outcome) {
	log := s.log.WithField("file", outcome.FileName)

	if u := outcome.Upload; u != nil {
		if u.Error == nil {
			log.Infof("Upload of %s succeeded (%s)", outcome.FileName, humanize.Bytes(uint64(u.Size)))
		} else {
			log.WithError(u.Error).Warnf("Upload of %s failed", outcome.FileName)
		}

		if ch := outcome.Chmod; ch != nil {
			if ch.Error == nil {
				log.Debugf("Permissions of %s set to %s", ch.FileName, ch.Permissions)
			} else {
				log.WithError(ch.Error).Warnf("Setting permissions of %s failed", ch.FileName)
			}
		} else {
			log.Debugf("Permissions of %s kept with their defaults", outcome.Destination)
		}

		if t := outcome.Touch; t != nil {
			if t.Error == nil {
				log.Debugf("Timestamp of %s set to %s", t.FileName, t.LastWriteTime)
			} else {
				log.WithError(t.Error).Warnf("Setting timestamp of %s failed", t.FileName)
			}
		} else {
			log.Debugf("Timestamp of %s kept with its default (current time)", outcome.Destination)
		}
	}

	if r := outcome.Removal; r != nil {
		if r.Error == nil {
			log.Infof("Removal of %s succeeded", r.FileName)
		} else {
			log.WithError(r.Error).Warnf("Removal of %s failed", r.FileName)
		}
	}
}
