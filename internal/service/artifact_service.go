package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/repository"
	"github.com/digkill/SynergyHub/internal/storage"
)

type ObjectStore interface {
	Upload(ctx context.Context, ownerID string, data []byte, contentType string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// ArtifactService copies provider results into our bucket and indexes them.
type ArtifactService struct {
	artifacts *repository.ArtifactRepository
	objects   ObjectStore
	fetcher   Fetcher
	log       *slog.Logger
}

func NewArtifactService(artifacts *repository.ArtifactRepository, objects ObjectStore, fetcher Fetcher, log *slog.Logger) *ArtifactService {
	return &ArtifactService{artifacts: artifacts, objects: objects, fetcher: fetcher, log: log}
}

type PersistInput struct {
	OwnerID   string
	Image     provider.Image
	Prompt    string
	Operation models.OperationType
	Model     string
}

func (s *ArtifactService) Persist(ctx context.Context, in PersistInput) (*models.StoredArtifact, error) {
	data, contentType := in.Image.Data, in.Image.ContentType
	if len(data) == 0 {
		if in.Image.URL == "" {
			return nil, errors.New("result has neither bytes nor url")
		}
		var err error
		data, contentType, err = s.fetcher.Fetch(ctx, in.Image.URL)
		if err != nil {
			return nil, err
		}
	} else {
		normalized, err := storage.NormalizeContentType(contentType, data)
		if err != nil {
			return nil, err
		}
		contentType = normalized
	}

	obj, err := s.objects.Upload(ctx, in.OwnerID, data, contentType)
	if err != nil {
		return nil, err
	}

	artifact := &models.StoredArtifact{
		OwnerID:         in.OwnerID,
		StoragePath:     obj.Key,
		PublicURL:       obj.URL,
		PromptText:      truncate(in.Prompt, 2000),
		Width:           in.Image.Width,
		Height:          in.Image.Height,
		Format:          storage.ExtensionFor(contentType),
		Visibility:      models.VisibilityPrivate,
		OperationType:   in.Operation,
		ModelIdentifier: in.Model,
	}
	if err := s.artifacts.Create(ctx, artifact); err != nil {
		if delErr := s.objects.Delete(context.WithoutCancel(ctx), obj.Key); delErr != nil {
			s.log.Error("failed to remove orphaned object", "key", obj.Key, "err", delErr)
		}
		return nil, err
	}
	return artifact, nil
}

func (s *ArtifactService) List(ctx context.Context, ownerID string, limit int) ([]models.StoredArtifact, error) {
	artifacts, err := s.artifacts.ListByOwner(ctx, ownerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

func (s *ArtifactService) SetVisibility(ctx context.Context, ownerID string, id int64, visibility models.Visibility) error {
	if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
		return invalid("visibility", "must be public or private")
	}
	ok, err := s.artifacts.SetVisibility(ctx, ownerID, id, visibility)
	if err != nil {
		return err
	}
	if !ok {
		return ErrArtifactNotFound
	}
	return nil
}

// Delete removes the object and the row together; on failure both remain.
func (s *ArtifactService) Delete(ctx context.Context, ownerID string, id int64) error {
	ok, err := s.artifacts.Delete(ctx, ownerID, id, s.objects.Delete)
	if err != nil {
		s.log.Error("artifact delete failed", "artifact_id", id, "owner_id", ownerID, "err", err)
		return err
	}
	if !ok {
		return ErrArtifactNotFound
	}
	return nil
}
