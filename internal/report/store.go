// Package report records what a run did to each input as YAML.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/saker-ai/audiosync/pkg/stream"
)

// Input is the outcome of one input file.
type Input struct {
	Path   string       `yaml:"path"`
	Group  string       `yaml:"group"`
	State  string       `yaml:"state"`
	Output string       `yaml:"output,omitempty"`
	Error  string       `yaml:"error,omitempty"`
	Loops  int          `yaml:"loops,omitempty"`
	Stats  stream.Stats `yaml:"stats"`
}

// Report is the record of one run.
type Report struct {
	RunID    string            `yaml:"run_id"`
	Started  time.Time         `yaml:"started"`
	Finished time.Time         `yaml:"finished"`
	Clock    string            `yaml:"clock"`
	Engine   string            `yaml:"engine"`
	Settings map[string]string `yaml:"settings,omitempty"`
	Inputs   []Input           `yaml:"inputs"`
}

// Info summarizes a stored report.
type Info struct {
	UID      string    `yaml:"uid" json:"uid"`
	RunID    string    `yaml:"run_id" json:"run_id"`
	Finished time.Time `yaml:"finished" json:"finished"`
	Inputs   int       `yaml:"inputs" json:"inputs"`
}

// New starts a report with a fresh run id.
func New(clock, engine string) *Report {
	return &Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Clock:   clock,
		Engine:  engine,
	}
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Store keeps reports under a base directory, one file per run.
type Store struct {
	BaseDir string
}

// Save writes r and returns its uid.
func (s Store) Save(r *Report) (string, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return "", err
	}
	stamp := r.Finished
	if stamp.IsZero() {
		stamp = time.Now()
	}
	uid := stamp.Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(r.RunID, "-", "")
	if !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid report uid")
	}
	if err := WriteFile(filepath.Join(dir, uid+".yaml"), r); err != nil {
		return "", err
	}
	return uid, nil
}

// Get loads a stored report.
func (s Store) Get(uid string) (*Report, error) {
	path, err := s.reportPath(uid)
	if err != nil {
		return nil, err
	}
	return ReadFile(path)
}

// Delete removes a stored report and reports whether it existed.
func (s Store) Delete(uid string) bool {
	path, err := s.reportPath(uid)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// List returns stored reports, newest first. Unreadable files are skipped.
func (s Store) List() []Info {
	list := []Info{}
	dir, err := s.ensureDir()
	if err != nil {
		return list
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		r, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		list = append(list, Info{
			UID:      strings.TrimSuffix(entry.Name(), ".yaml"),
			RunID:    r.RunID,
			Finished: r.Finished,
			Inputs:   len(r.Inputs),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Finished.After(list[j].Finished)
	})
	return list
}

func (s Store) ensureDir() (string, error) {
	if s.BaseDir == "" {
		return "", errors.New("report base dir is empty")
	}
	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return "", err
	}
	return s.BaseDir, nil
}

func (s Store) reportPath(uid string) (string, error) {
	if s.BaseDir == "" {
		return "", errors.New("report base dir is empty")
	}
	if !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid report uid")
	}
	return filepath.Join(s.BaseDir, uid+".yaml"), nil
}

// ReadFile decodes a report file.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}

// WriteFile encodes r to path, creating parent directories.
func WriteFile(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
