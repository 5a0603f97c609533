// Package turk keeps decisions that need a human: questions asked by the
// bot, their variants, and the answer once someone has given it.
package turk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/MimeLyc/iwbot/pkg/log"
)

// Entry is one question. Answer is the 1-based variant, 0 while unanswered.
type Entry struct {
	Variants []string `json:"variants"`
	Answer   int      `json:"answer,omitempty"`
	Used     bool     `json:"used,omitempty"`
}

// Turk is a question → answer file. Safe for concurrent use.
type Turk struct {
	path string

	mu      sync.Mutex
	entries map[string]*Entry
	// answered in this process; these win over the file
	decided map[string]struct{}
}

// Open loads the file at path; a missing file is an empty turk.
func Open(path string) (*Turk, error) {
	entries, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &Turk{path: path, entries: entries, decided: make(map[string]struct{})}, nil
}

func readFile(path string) (map[string]*Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]*Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read turk file: %w", err)
	}
	entries := make(map[string]*Entry)
	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode turk file %s: %w", path, err)
	}
	return entries, nil
}

// Answer returns the chosen variant of question. An unknown question is
// recorded with its variants so a human can answer it later.
func (t *Turk) Answer(question string, variants ...string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[question]
	if !ok {
		t.entries[question] = &Entry{Variants: slices.Clone(variants)}
		return 0, false
	}
	if e.Answer <= 0 {
		return 0, false
	}
	e.Used = true
	return e.Answer, true
}

// Pending lists unanswered questions in sorted order.
func (t *Turk) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ret := make([]string, 0)
	for q, e := range t.entries {
		if e.Answer <= 0 {
			ret = append(ret, q)
		}
	}
	slices.Sort(ret)
	return ret
}

func (t *Turk) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Save writes the file. Answers already present on disk win over
// unanswered questions in memory, so answers given while the bot was
// running survive. Answers given through AskHuman win over the file.
func (t *Turk) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	onDisk, err := readFile(t.path)
	if err != nil {
		return err
	}
	t.mergeLocked(onDisk)

	data, err := json.MarshalIndent(t.entries, "", " ")
	if err != nil {
		return fmt.Errorf("encode turk file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create turk directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write turk file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace turk file: %w", err)
	}
	return nil
}

// Reload merges answers written to the file by someone else.
func (t *Turk) Reload() error {
	onDisk, err := readFile(t.path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.mergeLocked(onDisk)
	t.mu.Unlock()
	return nil
}

func (t *Turk) mergeLocked(onDisk map[string]*Entry) {
	for q, disk := range onDisk {
		mem, ok := t.entries[q]
		if !ok {
			t.entries[q] = disk
			continue
		}
		if _, ok := t.decided[q]; ok {
			continue
		}
		if disk.Answer > 0 {
			mem.Answer = disk.Answer
		}
	}
}

// AskHuman puts every pending question to a human: it writes the question
// and numbered variants to out and reads a number from in until the answer
// is valid. It stops at end of input and returns how many were answered.
func (t *Turk) AskHuman(in io.Reader, out io.Writer) (int, error) {
	pending := t.Pending()
	scanner := bufio.NewScanner(in)
	answered := 0
	for i, question := range pending {
		t.mu.Lock()
		variants := slices.Clone(t.entries[question].Variants)
		t.mu.Unlock()
		if len(variants) == 0 {
			continue
		}

		answer := 0
		for answer == 0 {
			fmt.Fprintf(out, "\n\n%d/%d: %s\n", i+1, len(pending), question)
			for n, v := range variants {
				fmt.Fprintf(out, "%d) %s\n", n+1, v)
			}
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				return answered, scanner.Err()
			}
			n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
			if err == nil && n > 0 && n <= len(variants) {
				answer = n
			}
		}

		t.mu.Lock()
		t.entries[question].Answer = answer
		t.decided[question] = struct{}{}
		t.mu.Unlock()
		answered++
	}
	return answered, nil
}

// Watch reloads answers whenever the file changes, until ctx is done.
// The directory is watched, since Save replaces the file by rename.
func (t *Turk) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create turk directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	name := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := t.Reload(); err != nil {
				log.Warn("turk reload failed: %v", err)
				continue
			}
			log.Debug("turk answers reloaded from %s", t.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("turk watcher error: %v", err)
		}
	}
}
