package design

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// CreateDesignInput design create request; ID is optional
type CreateDesignInput struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	JSONPayload string `json:"jsonPayload"`
}

// Recorder receives design metrics
type Recorder interface {
	RecordDesignCreated()
}

// DesignService design service interface
type DesignService interface {
	CreateDesign(ctx context.Context, in CreateDesignInput) (*model.Design, error)
	GetDesign(ctx context.Context, id string) (*model.Design, error)
	ListDesigns(ctx context.Context) ([]*model.Design, error)
}

type designService struct {
	designs repository.DesignRepository
	metrics Recorder
}

// NewDesignService creates a design service; metrics may be nil
func NewDesignService(designs repository.DesignRepository, metrics Recorder) DesignService {
	return &designService{designs: designs, metrics: metrics}
}

// CreateDesign stores a design, generating the id when absent
func (s *designService) CreateDesign(ctx context.Context, in CreateDesignInput) (*model.Design, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(id) > 32 {
		return nil, utils.NewError(utils.CodeInvalidParam, "id must be at most 32 characters")
	}

	payload := in.JSONPayload
	if payload == "" {
		payload = model.DefaultDesignPayload
	}

	design := &model.Design{
		ID:          id,
		UserID:      in.UserID,
		Name:        in.Name,
		JSONPayload: payload,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.designs.Create(ctx, design); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, utils.WrapError(err, utils.CodeInvalidParam, "design already exists")
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to create design")
	}

	log.WithFields(logrus.Fields{
		"designId": design.ID,
		"userId":   design.UserID,
	}).Info("Design created")

	if s.metrics != nil {
		s.metrics.RecordDesignCreated()
	}
	return design, nil
}

// GetDesign gets a design
func (s *designService) GetDesign(ctx context.Context, id string) (*model.Design, error) {
	design, err := s.designs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, utils.ErrDesignNotFound
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to get design")
	}
	return design, nil
}

// ListDesigns lists designs
func (s *designService) ListDesigns(ctx context.Context) ([]*model.Design, error) {
	designs, err := s.designs.List(ctx)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to list designs")
	}
	return designs, nil
}
