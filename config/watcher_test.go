package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func loadTestOptions(path string) (*Options, error) {
	opts := &Options{Config: path}
	err := LoadConfig(opts, nil)
	return opts, err
}

func TestWatcherReload(t *testing.T) {
	path := writeConfig(t, "[strand]\nbrightness = 10\n")

	received := make(chan *Options, 1)
	w := NewWatcher(path, loadTestOptions, WithDebounce[*Options](50*time.Millisecond))
	w.OnReload(func(o *Options) {
		received <- o
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[strand]\nbrightness = 200\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case o := <-received:
		if o.Brightness != 200 {
			t.Errorf("reloaded Brightness got: %d, want 200", o.Brightness)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcherBadReloadKeepsQuiet(t *testing.T) {
	path := writeConfig(t, "[strand]\nbrightness = 10\n")

	received := make(chan *Options, 1)
	w := NewWatcher(path, loadTestOptions, WithDebounce[*Options](50*time.Millisecond))
	w.OnReload(func(o *Options) {
		received <- o
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[strand\nbrightness ="), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case o := <-received:
		t.Errorf("broken config got delivered: %+v", o)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherMissingFile(t *testing.T) {
	w := NewWatcher(t.TempDir()+"/absent.toml", loadTestOptions)
	if err := w.Start(); err == nil {
		w.Stop()
		t.Fatal("watching a missing file got no error")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after failed Start got: %v", err)
	}
}

func TestWatcherFollowsRenamedSaves(t *testing.T) {
	path := writeConfig(t, "[strand]\nbrightness = 10\n")
	dir := filepath.Dir(path)

	received := make(chan *Options, 4)
	w := NewWatcher(path, loadTestOptions, WithDebounce[*Options](50*time.Millisecond))
	w.OnReload(func(o *Options) {
		received <- o
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	// Saved the way vim and sed -i do it, twice: the second save must still
	// be seen after the first one replaced the file.
	for i, level := range []int{100, 150} {
		tmp := filepath.Join(dir, "simpleneo.toml.tmp")
		content := []byte("[strand]\nbrightness = " + strconv.Itoa(level) + "\n")
		if err := os.WriteFile(tmp, content, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
		select {
		case o := <-received:
			if o.Brightness != level {
				t.Errorf("save %d: Brightness got: %d, want %d", i, o.Brightness, level)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("save %d: timeout waiting for config reload", i)
		}
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "[strand]\nbrightness = 10\n")

	received := make(chan *Options, 1)
	w := NewWatcher(path, loadTestOptions, WithDebounce[*Options](50*time.Millisecond))
	w.OnReload(func(o *Options) {
		received <- o
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	other := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(other, []byte("[strand]\nbrightness = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case o := <-received:
		t.Errorf("change to another file got delivered: %+v", o)
	case <-time.After(300 * time.Millisecond):
	}
}
