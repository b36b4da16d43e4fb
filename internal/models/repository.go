package models

import (
	"strings"
	"time"
)

// Repository lifecycle statuses, in the order a migrated
// repository normally moves through them.
const (
	RepositoryStatusPending   = "pending"
	RepositoryStatusMigrated  = "migrated"
	RepositoryStatusGenerated = "pipeline_generated"
	RepositoryStatusTesting   = "pipeline_testing"
	RepositoryStatusCompleted = "completed"
)

// Repository is a source repository being migrated to
// Bitbucket, the parent of all pipeline configurations.
type Repository struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string      `gorm:"not null;index" json:"name"`
	Source             string      `gorm:"type:text;not null" json:"source"`
	SourceRepoURL      string      `json:"source_repo_url,omitempty"`
	BitbucketWorkspace string      `gorm:"not null" json:"bitbucket_workspace"`
	BitbucketRepoURL   string      `json:"bitbucket_repo_url,omitempty"`
	DefaultBranch      string      `gorm:"not null;default:main" json:"default_branch"`
	Status             string      `gorm:"type:text;not null;default:pending" json:"status"`
	CreatedAt          time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time   `gorm:"not null" json:"updated_at"`
	Pipelines          []*Pipeline `gorm:"foreignKey:RepositoryID;constraint:OnDelete:CASCADE" json:"pipelines,omitempty"`
}

type Repositories []*Repository

// Slug returns the Bitbucket repository slug, taken from the
// mirror URL when one is set and derived from the name
// otherwise.
func (r *Repository) Slug() string {
	if r.BitbucketRepoURL != "" {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(r.BitbucketRepoURL, "/"), ".git")
		if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
			return trimmed[i+1:]
		}
	}
	return strings.ToLower(strings.ReplaceAll(r.Name, " ", "-"))
}
