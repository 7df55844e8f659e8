package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
	log "github.com/sirupsen/logrus"

	"github.com/Jon-Bright/simpleneo/config"
)

func TestEveryOptionHasAFlag(t *testing.T) {
	cmd := newRootCmd()
	ty := reflect.TypeOf(config.Options{})
	for i := 0; i < ty.NumField(); i++ {
		name := config.FlagName(ty.Field(i).Name)
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("field %s has no --%s flag", ty.Field(i).Name, name)
		}
	}
}

func TestDefaultsValidate(t *testing.T) {
	cmd := newRootCmd()
	opts := &config.Options{}
	// Reading the defaults back the way LoadConfig would leave them.
	f := cmd.Flags()
	opts.Backend, _ = f.GetString("backend")
	opts.Pin, _ = f.GetInt("pin")
	opts.Pixels, _ = f.GetInt("pixels")
	opts.Brightness, _ = f.GetInt("brightness")
	if err := opts.Validate(); err != nil {
		t.Errorf("defaults don't validate: %v", err)
	}
}

func writeTestFile(t *testing.T, dir string, i int, content string) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%d.toml", i))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBrightness(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		content string
		want    int
	}{
		{"[strand]\nbrightness = 42\n", 42},
		{"[strand]\npin = 4\n", -1},
	}
	for i, test := range tests {
		path := writeTestFile(t, dir, i, test.content)
		got, err := loadBrightness(path)
		if err != nil || got != test.want {
			t.Errorf("%q got: %d, %v, want %d", test.content, got, err, test.want)
		}
	}
}

func TestJournalField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"effect", "EFFECT"},
		{"perStep", "PERSTEP"},
		{"remote-addr", "REMOTE_ADDR"},
		{"_hidden", "HIDDEN"},
		{"__", "FIELD"},
	}
	for _, test := range tests {
		if got := journalField(test.in); got != test.want {
			t.Errorf("journalField(%q) got: %q, want %q", test.in, got, test.want)
		}
	}
}

func TestJournalPriority(t *testing.T) {
	tests := []struct {
		level log.Level
		want  journal.Priority
	}{
		{log.FatalLevel, journal.PriCrit},
		{log.ErrorLevel, journal.PriErr},
		{log.WarnLevel, journal.PriWarning},
		{log.InfoLevel, journal.PriInfo},
		{log.DebugLevel, journal.PriDebug},
		{log.TraceLevel, journal.PriDebug},
	}
	for _, test := range tests {
		if got := journalPriority(test.level); got != test.want {
			t.Errorf("journalPriority(%v) got: %v, want %v", test.level, got, test.want)
		}
	}
}

func TestSetupLoggingBadLevel(t *testing.T) {
	if err := setupLogging("loud"); err == nil {
		t.Errorf("bad level got no error")
	}
}
