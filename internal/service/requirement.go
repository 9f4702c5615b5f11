package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/devshare/control-server-go/internal/errors"
	"github.com/devshare/control-server-go/internal/events"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/repository"
)

// RequirementService owns the device-access request lifecycle and bridges
// approved use_device requirements into co-ownership grants.
type RequirementService struct {
	repo    repository.RequirementRepository
	devices *DeviceService
	pub     events.Publisher
}

func NewRequirementService(
	repo repository.RequirementRepository,
	devices *DeviceService,
	pub events.Publisher,
) *RequirementService {
	return &RequirementService{
		repo:    repo,
		devices: devices,
		pub:     pub,
	}
}

func (s *RequirementService) FindByID(ctx context.Context, id string) (*model.Requirement, error) {
	requirement, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if requirement == nil {
		return nil, apperrors.NotFound("Requirement")
	}
	return requirement, nil
}

func (s *RequirementService) Create(ctx context.Context, requesterID string, params model.CreateRequirementParams) (*model.Requirement, error) {
	if params.Type != model.RequirementTypeUseDevice {
		return nil, apperrors.InvalidInput("type", "unknown requirement type")
	}

	requirement, err := s.repo.Create(ctx, requesterID, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.publish(ctx, events.SubjectRequirementCreate, requirement.ID)

	return requirement, nil
}

// Update transitions the status. Only the device owner may resolve a
// requirement. Approval is applied inline as well as through the bridge
// consumer, so a broker outage delays but never loses the grant.
func (s *RequirementService) Update(ctx context.Context, callerID, id string, params model.UpdateRequirementParams) (*model.Requirement, error) {
	requirement, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if requirement == nil {
		return nil, apperrors.NotFound("Requirement")
	}

	if requirement.OwnerID != callerID {
		return nil, apperrors.Forbidden("Only the device owner may resolve this requirement")
	}

	if params.Status != model.RequirementStatusApproved && params.Status != model.RequirementStatusRejected {
		return nil, apperrors.InvalidInput("status", "must be approved or rejected")
	}

	updated, err := s.repo.UpdateStatus(ctx, id, params.Status, time.Now())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if updated == nil {
		return nil, apperrors.NotFound("Requirement")
	}

	s.publish(ctx, events.SubjectRequirementUpdate, updated.ID)

	if updated.Status == model.RequirementStatusApproved {
		if err := s.apply(ctx, updated); err != nil {
			log.Error().Err(err).Str("requirementId", updated.ID).
				Msg("failed to apply approved requirement inline, bridge will retry")
		}
	}

	return updated, nil
}

// ApplyApprovedByID re-reads the requirement and applies it when it is an
// approved use_device request. Any other state is a no-op, which makes this
// safe under at-least-once fact delivery.
func (s *RequirementService) ApplyApprovedByID(ctx context.Context, id string) error {
	requirement, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return apperrors.Database(err)
	}
	if requirement == nil {
		log.Warn().Str("requirementId", id).Msg("requirement fact for missing row, ignoring")
		return nil
	}

	if requirement.Status != model.RequirementStatusApproved {
		return nil
	}

	return s.apply(ctx, requirement)
}

func (s *RequirementService) apply(ctx context.Context, requirement *model.Requirement) error {
	if requirement.Type != model.RequirementTypeUseDevice {
		return nil
	}

	var payload model.RequirementPayload
	if err := json.Unmarshal(requirement.Payload, &payload); err != nil || payload.DeviceID == "" {
		log.Warn().Err(err).Str("requirementId", requirement.ID).
			Msg("approved requirement has unusable payload, ignoring")
		return nil
	}

	return s.devices.AddCoOwner(ctx, payload.DeviceID, requirement.RequesterID)
}

func (s *RequirementService) publish(ctx context.Context, subject, id string) {
	if err := s.pub.Publish(ctx, subject, events.Fact{ID: id}); err != nil {
		log.Error().Err(err).Str("subject", subject).Str("id", id).Msg("failed to publish requirement event")
	}
}
