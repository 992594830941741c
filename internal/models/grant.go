package models

import (
	"time"

	"github.com/google/uuid"
)

type AccessLevel string

const (
	AccessLevelView  AccessLevel = "view"
	AccessLevelEdit  AccessLevel = "edit"
	AccessLevelAdmin AccessLevel = "admin"
)

// Rank places access levels on the total order view < edit < admin.
// Unknown levels rank below view.
func (l AccessLevel) Rank() int {
	switch l {
	case AccessLevelView:
		return 1
	case AccessLevelEdit:
		return 2
	case AccessLevelAdmin:
		return 3
	default:
		return 0
	}
}

func (l AccessLevel) Valid() bool {
	return l.Rank() > 0
}

type ResourceType string

const (
	ResourceTypeFolder ResourceType = "folder"
	ResourceTypeItem   ResourceType = "item"
)

func (t ResourceType) Valid() bool {
	return t == ResourceTypeFolder || t == ResourceTypeItem
}

// Grant links a grantee principal to a resource at an access level.
// At most one active grant exists per (resource, grantee) pair; granting
// again replaces the level and expiry. A grant past ExpiresAt is treated
// as absent without requiring deletion.
type Grant struct {
	BaseModel
	ResourceID   uuid.UUID    `json:"resourceID" gorm:"type:uuid;not null;index:idx_grants_resource_grantee,unique"`
	ResourceType ResourceType `json:"resourceType" gorm:"type:varchar(20);not null;index:idx_grants_resource_grantee,unique"`
	GranteeID    uuid.UUID    `json:"granteeID" gorm:"type:uuid;not null;index:idx_grants_resource_grantee,unique"`
	AccessLevel  AccessLevel  `json:"accessLevel" gorm:"type:varchar(20);not null;default:'view'"`
	GrantedByID  uuid.UUID    `json:"grantedByID" gorm:"type:uuid;not null;index"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`

	Grantee   User `json:"grantee,omitempty" gorm:"foreignKey:GranteeID;references:ID"`
	GrantedBy User `json:"grantedBy,omitempty" gorm:"foreignKey:GrantedByID;references:ID"`
}

func (Grant) TableName() string {
	return "grants"
}

// Expired reports whether the grant is logically absent at the given time.
func (g *Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}
