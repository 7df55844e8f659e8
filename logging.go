package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const syslogIdentifier = "simpleneo"

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "bad log level")
	}
	log.SetLevel(lvl)
	if journal.Enabled() {
		// Under systemd stderr ends up in the journal too. Send once,
		// with fields.
		log.AddHook(journalHook{})
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

// journalHook sends entries to the systemd journal, fields included.
type journalHook struct{}

func (journalHook) Levels() []log.Level {
	return log.AllLevels
}

func (journalHook) Fire(e *log.Entry) error {
	fields := map[string]string{"SYSLOG_IDENTIFIER": syslogIdentifier}
	for k, v := range e.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[journalField(k)] = fmt.Sprint(v)
	}
	return journal.Send(e.Message, journalPriority(e.Level), fields)
}

func journalPriority(l log.Level) journal.Priority {
	switch l {
	case log.PanicLevel:
		return journal.PriCrit
	case log.FatalLevel:
		return journal.PriCrit
	case log.ErrorLevel:
		return journal.PriErr
	case log.WarnLevel:
		return journal.PriWarning
	case log.InfoLevel:
		return journal.PriInfo
	}
	return journal.PriDebug
}

// journalField makes k a valid journal field name: upper case letters, digits
// and underscores, not starting with an underscore.
func journalField(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	f := strings.TrimLeft(b.String(), "_")
	if f == "" {
		return "FIELD"
	}
	return f
}
