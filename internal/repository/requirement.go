package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devshare/control-server-go/internal/model"
)

type RequirementRepository interface {
	FindByID(ctx context.Context, id string) (*model.Requirement, error)
	Create(ctx context.Context, requesterID string, params model.CreateRequirementParams) (*model.Requirement, error)
	UpdateStatus(ctx context.Context, id string, status model.RequirementStatus, respondedAt time.Time) (*model.Requirement, error)
}

type requirementRepo struct {
	db *sqlx.DB
}

func NewRequirementRepository(db *sqlx.DB) RequirementRepository {
	return &requirementRepo{db: db}
}

func (r *requirementRepo) FindByID(ctx context.Context, id string) (*model.Requirement, error) {
	var requirement model.Requirement
	err := r.db.GetContext(ctx, &requirement, `
		SELECT * FROM requirements WHERE id = $1
	`, id)
	return HandleNotFound(&requirement, err)
}

func (r *requirementRepo) Create(ctx context.Context, requesterID string, params model.CreateRequirementParams) (*model.Requirement, error) {
	var requirement model.Requirement
	err := r.db.GetContext(ctx, &requirement, `
		INSERT INTO requirements (id, owner_id, requester_id, type, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, uuid.New().String(), params.OwnerID, requesterID, params.Type,
		model.RequirementStatusPending, []byte(params.Payload))
	if err != nil {
		return nil, err
	}
	return &requirement, nil
}

func (r *requirementRepo) UpdateStatus(ctx context.Context, id string, status model.RequirementStatus, respondedAt time.Time) (*model.Requirement, error) {
	var requirement model.Requirement
	err := r.db.GetContext(ctx, &requirement, `
		UPDATE requirements SET status = $2, responded_at = $3 WHERE id = $1
		RETURNING *
	`, id, status, respondedAt)
	return HandleNotFound(&requirement, err)
}
