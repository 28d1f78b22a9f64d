package viewer

import (
	"time"

	"medisync/internal/domain"
)

type CollectionListing struct {
	CollectionUID string         `json:"collection_uid"`
	OwnerID       int64          `json:"owner_id"`
	Description   string         `json:"description,omitempty"`
	Modality      string         `json:"modality,omitempty"`
	Groups        []GroupListing `json:"groups"`
}

type GroupListing struct {
	GroupUID    string            `json:"group_uid"`
	Number      int               `json:"number"`
	Description string            `json:"description,omitempty"`
	Modality    string            `json:"modality,omitempty"`
	Artifacts   []domain.Artifact `json:"artifacts"`
}

type ArtifactReference struct {
	ArtifactUID string    `json:"artifact_uid"`
	URL         string    `json:"url"`
	Token       string    `json:"token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}
