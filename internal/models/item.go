package models

import "github.com/google/uuid"

// StringList stores a set of free-form tags as a JSON array.
type StringList []string

// Item is a tracked inventory entry. FolderID is nullable: items may be
// unfiled, and deleting a folder is blocked while items still reference it.
type Item struct {
	BaseModel
	OwnerID   uuid.UUID  `json:"ownerID" gorm:"type:uuid;not null;index"`
	Name      string     `json:"name" gorm:"type:varchar(255);not null"`
	Quantity  int64      `json:"quantity" gorm:"not null;default:0"`
	MinLevel  int64      `json:"minLevel" gorm:"not null;default:0"`
	Price     float64    `json:"price" gorm:"not null;default:0"`
	Tags      StringList `json:"tags" gorm:"type:jsonb;serializer:json"`
	Notes     string     `json:"notes" gorm:"type:text"`
	FolderID  *uuid.UUID `json:"folderID,omitempty" gorm:"type:uuid;index"`
	PhotoPath *string    `json:"photoPath,omitempty" gorm:"type:text"`

	Folder *Folder `json:"folder,omitempty" gorm:"foreignKey:FolderID"`
	Owner  User    `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
}

func (Item) TableName() string {
	return "items"
}

// BelowMinLevel reports whether the item has fallen to or under its
// configured reorder threshold.
func (i *Item) BelowMinLevel() bool {
	return i.MinLevel > 0 && i.Quantity <= i.MinLevel
}
