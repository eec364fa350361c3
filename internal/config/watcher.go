package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/rules"
)

/*
 * Rule document hot reload.
 *
 * The store holds the active rules document behind a RWMutex; the worker
 * takes a snapshot per job, so a reload mid-run never affects an executing
 * run. A changed file that fails to load or validate is rejected and the
 * previous document stays active.
 *
 * The watch is on the containing directory, not the file: editors and
 * configmap-style mounts replace the file via rename, which drops a
 * file-level watch.
 */

// RuleStore holds the active rules document and reloads it on file change.
type RuleStore struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	doc *rules.Document
}

// NewRuleStore loads and validates the rules file at path.
func NewRuleStore(path string, log zerolog.Logger) (*RuleStore, error) {
	doc, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	if _, err := rules.ValidateDocument(doc); err != nil {
		return nil, err
	}
	return &RuleStore{path: path, log: log, doc: doc}, nil
}

// Document returns the active rules document snapshot.
func (s *RuleStore) Document() *rules.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Reload re-reads the rules file, keeping the current document when the
// new one fails to load or validate.
func (s *RuleStore) Reload() error {
	doc, err := LoadRules(s.path)
	if err != nil {
		return err
	}
	if _, err := rules.ValidateDocument(doc); err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.log.Info().Str("path", s.path).Int("rules", len(doc.Rules)).Msg("rules reloaded")
	return nil
}

// Watch blocks until ctx is done, reloading the document whenever the
// rules file changes on disk.
func (s *RuleStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Error().Err(err).Str("path", s.path).
					Msg("rules reload failed, keeping previous rule set")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("rules watcher error")
		}
	}
}
