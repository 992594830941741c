package models

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FolderPath is the materialized ancestor chain of a folder: the ids of
// every ancestor ordered root-first. A root folder has an empty path.
// It is stored as a single slash-joined text column so that subtree
// lookups are plain string prefix matches instead of recursive joins.
type FolderPath []uuid.UUID

func (p FolderPath) String() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, len(p))
	for i, id := range p {
		parts[i] = id.String()
	}
	return strings.Join(parts, "/")
}

func (p FolderPath) Contains(id uuid.UUID) bool {
	for _, ancestor := range p {
		if ancestor == id {
			return true
		}
	}
	return false
}

// Child returns the path a direct child of a folder with this path and
// the given id must carry.
func (p FolderPath) Child(id uuid.UUID) FolderPath {
	child := make(FolderPath, 0, len(p)+1)
	child = append(child, p...)
	return append(child, id)
}

func ParseFolderPath(raw string) (FolderPath, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "/")
	path := make(FolderPath, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q: %w", part, err)
		}
		path = append(path, id)
	}
	return path, nil
}

func (p FolderPath) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *FolderPath) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
		return nil
	case string:
		parsed, err := ParseFolderPath(v)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	case []byte:
		parsed, err := ParseFolderPath(string(v))
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into FolderPath", value)
	}
}

// Folder is a node in a tenant's folder tree. Path and Level are
// denormalized from the parent chain and maintained by the folder
// service; Revision guards structural writes against concurrent moves.
type Folder struct {
	BaseModel
	OwnerID      uuid.UUID              `json:"ownerID" gorm:"type:uuid;not null;index"`
	Name         string                 `json:"name" gorm:"type:varchar(255);not null"`
	ParentID     *uuid.UUID             `json:"parentID,omitempty" gorm:"type:uuid;index"`
	Path         FolderPath             `json:"path" gorm:"type:text;not null;default:'';index"`
	Level        int                    `json:"level" gorm:"not null;default:1"`
	Tags         StringList             `json:"tags" gorm:"type:jsonb;serializer:json"`
	Color        string                 `json:"color" gorm:"type:varchar(20)"`
	CustomFields map[string]interface{} `json:"customFields,omitempty" gorm:"type:jsonb;serializer:json"`
	Revision     int64                  `json:"revision" gorm:"not null;default:1"`

	Parent   *Folder `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
	Children []Folder `json:"children,omitempty" gorm:"foreignKey:ParentID"`
	Owner    User    `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Items    []Item  `json:"-" gorm:"foreignKey:FolderID"`
}

func (Folder) TableName() string {
	return "folders"
}

// SubtreePrefix is the path string every descendant of this folder
// carries as a prefix: the folder's own path extended with its id. A
// direct child's path equals the prefix exactly, deeper descendants'
// paths continue with a slash.
func (f *Folder) SubtreePrefix() string {
	return f.Path.Child(f.ID).String()
}

// IsRoot reports whether the folder sits at the top of its tenant's tree.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}
