package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devshare/control-server-go/internal/database"
	"github.com/devshare/control-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindPage returns sessions created inside [start, end], newest first.
	FindPage(ctx context.Context, params model.ListSessionsParams) ([]model.Session, int, error)
	Create(ctx context.Context, deviceID string, watchers []model.SessionWatcherRef) (*model.Session, error)
	// Update touches the row (duration, updated_at) and, when watchers is
	// non-nil, replaces the watcher rows.
	Update(ctx context.Context, id string, duration string, updatedAt time.Time, watchers *[]model.SessionWatcherRef) error
	Delete(ctx context.Context, id string) (bool, error)
	// ExistingIDs reports which of the given session ids still have a row.
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

type sessionRepo struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	found, err := HandleNotFound(&session, err)
	if found == nil || err != nil {
		return nil, err
	}

	if err := r.attachWatchers(ctx, []*model.Session{found}); err != nil {
		return nil, err
	}

	return found, nil
}

func (r *sessionRepo) FindPage(ctx context.Context, params model.ListSessionsParams) ([]model.Session, int, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE created_at BETWEEN $1 AND $2
		  AND ($3 = '' OR device_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, params.StartDate, params.EndDate, params.DeviceID, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, err
	}

	var count int
	err = r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions
		WHERE created_at BETWEEN $1 AND $2
		  AND ($3 = '' OR device_id = $3)
	`, params.StartDate, params.EndDate, params.DeviceID)
	if err != nil {
		return nil, 0, err
	}

	refs := make([]*model.Session, len(sessions))
	for i := range sessions {
		refs[i] = &sessions[i]
	}
	if err := r.attachWatchers(ctx, refs); err != nil {
		return nil, 0, err
	}

	return sessions, count, nil
}

func (r *sessionRepo) Create(ctx context.Context, deviceID string, watchers []model.SessionWatcherRef) (*model.Session, error) {
	var session model.Session

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &session, `
			INSERT INTO sessions (id, device_id)
			VALUES ($1, $2)
			RETURNING *
		`, uuid.New().String(), deviceID); err != nil {
			return err
		}

		return insertWatchers(ctx, tx, session.ID, watchers)
	})
	if err != nil {
		return nil, err
	}

	session.Watchers = make([]model.SessionWatcher, len(watchers))
	for i, w := range watchers {
		session.Watchers[i] = model.SessionWatcher{
			SessionID:     session.ID,
			DeviceID:      w.ID,
			IsControlling: w.IsControlling,
			Position:      i,
		}
	}

	return &session, nil
}

func (r *sessionRepo) Update(ctx context.Context, id string, duration string, updatedAt time.Time, watchers *[]model.SessionWatcherRef) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET duration = $2, updated_at = $3 WHERE id = $1
		`, id, duration, updatedAt); err != nil {
			return err
		}

		if watchers == nil {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM session_watchers WHERE session_id = $1
		`, id); err != nil {
			return err
		}

		return insertWatchers(ctx, tx, id, *watchers)
	})
}

func (r *sessionRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *sessionRepo) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.SelectContext(ctx, &found, `
		SELECT id FROM sessions WHERE id = ANY($1)
	`, pq.StringArray(ids))
	if err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = struct{}{}
	}

	return existing, nil
}

func insertWatchers(ctx context.Context, tx *sqlx.Tx, sessionID string, watchers []model.SessionWatcherRef) error {
	for i, w := range watchers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_watchers (session_id, device_id, is_controlling, position)
			VALUES ($1, $2, $3, $4)
		`, sessionID, w.ID, w.IsControlling, i); err != nil {
			return err
		}
	}
	return nil
}

// attachWatchers loads watcher rows for the given sessions in one query.
func (r *sessionRepo) attachWatchers(ctx context.Context, sessions []*model.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	ids := make([]string, len(sessions))
	byID := make(map[string]*model.Session, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	var watchers []model.SessionWatcher
	err := r.db.SelectContext(ctx, &watchers, `
		SELECT * FROM session_watchers
		WHERE session_id = ANY($1)
		ORDER BY session_id, position
	`, pq.StringArray(ids))
	if err != nil {
		return err
	}

	for _, w := range watchers {
		if s, ok := byID[w.SessionID]; ok {
			s.Watchers = append(s.Watchers, w)
		}
	}

	return nil
}
