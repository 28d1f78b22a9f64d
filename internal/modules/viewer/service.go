// Package viewer is the read side of the content store: listing a
// collection's artifacts grouped by Group, and issuing time-limited access
// references for individual payloads. It never mutates anything.
package viewer

import (
	"context"
	"io"
	"time"

	"medisync/internal/domain"
	"medisync/internal/pkg/reference"
	"medisync/internal/store"
)

type CollectionRepository interface {
	GetByUID(ctx context.Context, uid string) (*domain.Collection, error)
	GroupsByCollection(ctx context.Context, collectionUID string) ([]domain.Group, error)
}

type ArtifactRepository interface {
	GetByUID(ctx context.Context, uid string) (*domain.Artifact, error)
	ListByGroup(ctx context.Context, groupUID string) ([]domain.Artifact, error)
}

type Service struct {
	collections CollectionRepository
	artifacts   ArtifactRepository
	blobs       store.BlobStore
	signer      *reference.Signer

	// nativePresign selects backend-signed URLs (object storage) over the
	// token+redeem scheme used with the filesystem backend
	nativePresign bool
}

func NewService(collections CollectionRepository, artifacts ArtifactRepository, blobs store.BlobStore, signer *reference.Signer, nativePresign bool) *Service {
	return &Service{
		collections:   collections,
		artifacts:     artifacts,
		blobs:         blobs,
		signer:        signer,
		nativePresign: nativePresign,
	}
}

// ListArtifacts returns a collection's artifacts grouped by Group, ordered
// by group number.
func (s *Service) ListArtifacts(ctx context.Context, collectionUID string) (*CollectionListing, error) {
	coll, err := s.collections.GetByUID(ctx, collectionUID)
	if err != nil {
		return nil, err
	}

	groups, err := s.collections.GroupsByCollection(ctx, collectionUID)
	if err != nil {
		return nil, err
	}

	listing := &CollectionListing{
		CollectionUID: coll.CollectionUID,
		OwnerID:       coll.OwnerID,
		Description:   coll.Description,
		Modality:      coll.Modality,
		Groups:        make([]GroupListing, 0, len(groups)),
	}

	for _, g := range groups {
		artifacts, err := s.artifacts.ListByGroup(ctx, g.GroupUID)
		if err != nil {
			return nil, err
		}
		listing.Groups = append(listing.Groups, GroupListing{
			GroupUID:    g.GroupUID,
			Number:      g.Number,
			Description: g.Description,
			Modality:    g.Modality,
			Artifacts:   artifacts,
		})
	}

	return listing, nil
}

// Reference issues an expiring address for one artifact's payload.
func (s *Service) Reference(ctx context.Context, artifactUID string, ttl time.Duration) (*ArtifactReference, error) {
	art, err := s.artifacts.GetByUID(ctx, artifactUID)
	if err != nil {
		return nil, err
	}

	if s.nativePresign {
		url, err := s.blobs.Presign(ctx, art.StorageKey, ttl)
		if err != nil {
			return nil, err
		}
		return &ArtifactReference{
			ArtifactUID: art.ArtifactUID,
			URL:         url,
			ExpiresAt:   time.Now().Add(ttl),
		}, nil
	}

	token, expiresAt, err := s.signer.Issue(art.ArtifactUID, art.StorageKey, ttl)
	if err != nil {
		return nil, err
	}
	return &ArtifactReference{
		ArtifactUID: art.ArtifactUID,
		URL:         "/api/v1/blob?token=" + token,
		Token:       token,
		ExpiresAt:   expiresAt,
	}, nil
}

// Open redeems a reference token and streams the payload it addresses.
func (s *Service) Open(ctx context.Context, token string) (*reference.Claims, io.ReadCloser, error) {
	claims, err := s.signer.Redeem(token)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Get(ctx, claims.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return claims, rc, nil
}
