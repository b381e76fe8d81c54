package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/persona"
)

// SQLiteProfileStore implements persona.Store backed by SQLite.
type SQLiteProfileStore struct {
	db *DB
}

// NewSQLiteProfileStore creates a profile store using the given database.
func NewSQLiteProfileStore(db *DB) *SQLiteProfileStore {
	return &SQLiteProfileStore{db: db}
}

// Get returns the profile stored under key, or persona.ErrNotFound.
func (s *SQLiteProfileStore) Get(ctx context.Context, key string) (*domain.Profile, error) {
	var (
		p        domain.Profile
		locale   string
		active   int
		lastUsed string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT topic, personality, tone, locale, voice_id, continuity_token, active, last_used
		 FROM profiles WHERE user_key = ?`, key,
	).Scan(&p.Topic, &p.Personality, &p.Tone, &locale, &p.VoiceID, &p.ContinuityToken, &active, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persona.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	p.Locale = domain.Locale(locale)
	p.Active = active != 0
	p.LastUsed, err = time.Parse(time.DateTime, lastUsed)
	if err != nil {
		return nil, fmt.Errorf("parsing last_used of profile %s: %w", key, err)
	}
	return &p, nil
}

// Put creates or replaces the profile stored under key.
func (s *SQLiteProfileStore) Put(ctx context.Context, key string, p domain.Profile) error {
	lastUsed := p.LastUsed
	if lastUsed.IsZero() {
		lastUsed = time.Now()
	}
	active := 0
	if p.Active {
		active = 1
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO profiles (user_key, topic, personality, tone, locale, voice_id, continuity_token, active, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_key) DO UPDATE SET
		   topic = excluded.topic,
		   personality = excluded.personality,
		   tone = excluded.tone,
		   locale = excluded.locale,
		   voice_id = excluded.voice_id,
		   continuity_token = excluded.continuity_token,
		   active = excluded.active,
		   last_used = excluded.last_used`,
		key, p.Topic, p.Personality, p.Tone, string(p.Locale), p.VoiceID, p.ContinuityToken,
		active, lastUsed.UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// Count returns the number of stored profiles.
func (s *SQLiteProfileStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting profiles: %w", err)
	}
	return n, nil
}
