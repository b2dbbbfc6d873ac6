package session

import (
	"errors"
	"fmt"

	"conductor/pkg/logx"
	"conductor/pkg/store"
)

// sessionSchema is deliberately lenient: it pins the identity fields and
// lets everything else coerce through applyDefaults, so hand-edited or
// older records still load.
var sessionSchema = store.MustCompileSchema([]byte(`{
	"type": "object",
	"required": ["session_id", "chat_id", "user_id"],
	"properties": {
		"session_id": {"type": "string"},
		"chat_id": {"type": "string"},
		"user_id": {"type": "string"},
		"history": {"type": "array"}
	}
}`))

// Repository persists sessions as one JSON file per chat/user pair.
type Repository struct {
	store       *store.Store
	defaultMode Mode
	logger      *logx.Logger
}

// NewRepository creates a session repository rooted at dir. Sessions with
// no stored record start in defaultMode; an unrecognized mode falls back
// to single.
func NewRepository(dir string, defaultMode Mode) (*Repository, error) {
	s, err := store.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session repository: %w", err)
	}
	mode, ok := ParseMode(string(defaultMode))
	if !ok {
		mode = ModeSingle
	}
	return &Repository{
		store:       s,
		defaultMode: mode,
		logger:      logx.NewLogger("session"),
	}, nil
}

// newSession creates a fresh session in the repository's default mode.
func (r *Repository) newSession(key Key) *Session {
	s := New(key)
	s.Mode = r.defaultMode
	return s
}

// Dir returns the repository's base directory.
func (r *Repository) Dir() string {
	return r.store.Dir()
}

func recordName(key Key) string {
	return key.String() + ".json"
}

// Load returns the session for key, creating a fresh one when no record
// exists. A corrupt record is replaced by a fresh session rather than
// blocking the chat; the caller is told via the corrupt return so it can
// emit a trace entry.
func (r *Repository) Load(key Key) (s *Session, corrupt bool, err error) {
	var loaded Session
	err = r.store.Read(recordName(key), sessionSchema, &loaded)
	switch {
	case err == nil:
		loaded.applyDefaults()
		// RunLock is a diagnostic mirror; a record that still claims a
		// running lock after a restart is the residue of a crash.
		if loaded.RunLock {
			r.logger.Warn("Session %s loaded with stale run flag, clearing", key)
			loaded.RunLock = false
		}
		return &loaded, false, nil
	case errors.Is(err, store.ErrNotFound):
		return r.newSession(key), false, nil
	case store.IsCorrupt(err):
		r.logger.Error("Session %s is corrupt, starting fresh: %v", key, err)
		return r.newSession(key), true, nil
	default:
		return nil, false, fmt.Errorf("failed to load session %s: %w", key, err)
	}
}

// Save atomically persists the session.
func (r *Repository) Save(s *Session) error {
	s.Touch()
	if err := r.store.Write(recordName(s.Key()), s); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.Key(), err)
	}
	return nil
}

// Reset replaces the stored session with a fresh one, preserving the
// profile selection so /new does not forget the working setup.
func (r *Repository) Reset(key Key) (*Session, error) {
	old, _, err := r.Load(key)
	if err != nil {
		return nil, err
	}
	fresh := New(key)
	fresh.Mode = old.Mode
	fresh.ProfileName = old.ProfileName
	fresh.ProfileModel = old.ProfileModel
	fresh.ProfileWorkingDir = old.ProfileWorkingDir
	fresh.AgentModels = old.AgentModels
	fresh.AgentPrompts = old.AgentPrompts
	if err := r.Save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// List returns keys of all persisted sessions.
func (r *Repository) List() ([]Key, error) {
	names, err := r.store.List("*-*.json")
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(names))
	for _, name := range names {
		var s Session
		if readErr := r.store.Read(name, nil, &s); readErr != nil {
			continue
		}
		if s.ChatID != "" && s.UserID != "" {
			keys = append(keys, Key{ChatID: s.ChatID, UserID: s.UserID})
		}
	}
	return keys, nil
}
