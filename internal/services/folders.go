package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stockroom/backend/internal/models"
	"gorm.io/gorm"
)

// FolderService maintains each tenant's folder tree. Every folder
// carries a materialized path (ordered ancestor ids) and level (depth,
// root = 1); the service keeps both consistent across creates, renames,
// moves and deletes. A move rewrites the entire subtree in one
// transaction: descendants are selected with a single path-prefix query,
// rewritten in memory, and written back under the folder's revision
// guard so a concurrent structural change surfaces as a retryable
// conflict instead of a torn tree.
type FolderService struct {
	DB *gorm.DB
}

func NewFolderService(db *gorm.DB) *FolderService {
	return &FolderService{DB: db}
}

// CreateFolderInput carries the optional presentation attributes a
// folder is created with alongside its tree position.
type CreateFolderInput struct {
	Name         string
	ParentID     *uuid.UUID
	Tags         models.StringList
	Color        string
	CustomFields map[string]interface{}
}

// Create inserts a folder under the given parent (nil for a root),
// deriving path and level from the parent. The parent must belong to
// the same tenant; a case-sensitive sibling name collision is a
// conflict.
func (s *FolderService) Create(ctx context.Context, tenantID uuid.UUID, in CreateFolderInput) (*models.Folder, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidOperation
	}

	folder := models.Folder{
		OwnerID:      tenantID,
		Name:         name,
		ParentID:     in.ParentID,
		Level:        1,
		Tags:         in.Tags,
		Color:        in.Color,
		CustomFields: in.CustomFields,
		Revision:     1,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ParentID != nil {
			parent, err := s.fetch(tx, tenantID, *in.ParentID)
			if err != nil {
				return err
			}
			folder.Path = parent.Path.Child(parent.ID)
			folder.Level = parent.Level + 1
		}

		taken, err := s.siblingNameTaken(tx, tenantID, in.ParentID, name, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: folder %q already exists here", ErrConflict, name)
		}

		if err := tx.Create(&folder).Error; err != nil {
			return fmt.Errorf("folder insert failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// Rename changes a folder's name, enforcing sibling uniqueness within
// the same (tenant, parent) scope excluding the folder itself.
func (s *FolderService) Rename(ctx context.Context, tenantID, folderID uuid.UUID, newName string) (*models.Folder, error) {
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, ErrInvalidOperation
	}

	var renamed *models.Folder
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.fetch(tx, tenantID, folderID)
		if err != nil {
			return err
		}

		if folder.Name != name {
			taken, err := s.siblingNameTaken(tx, tenantID, folder.ParentID, name, folder.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: folder %q already exists here", ErrConflict, name)
			}
		}

		result := tx.Model(&models.Folder{}).
			Where("id = ? AND revision = ?", folder.ID, folder.Revision).
			Updates(map[string]interface{}{
				"name":     name,
				"revision": folder.Revision + 1,
			})
		if result.Error != nil {
			return fmt.Errorf("folder rename failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: folder changed concurrently", ErrConflict)
		}

		folder.Name = name
		folder.Revision++
		renamed = folder
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// MoveResult reports the outcome of a move: the folder in its new
// position and how many descendants had their path rewritten.
type MoveResult struct {
	Folder           *models.Folder
	DescendantsMoved int
}

// Move reparents a folder (nil newParentID makes it a root) and rewrites
// the path and level of its whole subtree. Self-parenting is an invalid
// operation; a new parent already inside the folder's subtree is a
// cycle. The folder row and every descendant row are updated in one
// transaction under revision guards, so either the complete subtree
// moves or nothing does.
func (s *FolderService) Move(ctx context.Context, tenantID, folderID uuid.UUID, newParentID *uuid.UUID) (*MoveResult, error) {
	var result MoveResult

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.fetch(tx, tenantID, folderID)
		if err != nil {
			return err
		}

		newPath := models.FolderPath(nil)
		newLevel := 1
		if newParentID != nil {
			if *newParentID == folderID {
				return fmt.Errorf("%w: folder cannot be its own parent", ErrInvalidOperation)
			}
			parent, err := s.fetch(tx, tenantID, *newParentID)
			if err != nil {
				return err
			}
			// The parent's own ancestor chain holding the moved id means
			// the parent lives inside the moved subtree.
			if parent.Path.Contains(folderID) {
				return ErrCycleDetected
			}
			newPath = parent.Path.Child(parent.ID)
			newLevel = parent.Level + 1
		}

		descendants, err := s.descendants(tx, tenantID, folder)
		if err != nil {
			return err
		}

		oldPrefixLen := len(folder.Path)
		levelDelta := newLevel - folder.Level

		if err := s.writeStructural(tx, folder, map[string]interface{}{
			"parent_id": newParentID,
			"path":      newPath,
			"level":     newLevel,
			"revision":  folder.Revision + 1,
		}); err != nil {
			return err
		}

		for i := range descendants {
			d := &descendants[i]
			rewritten := make(models.FolderPath, 0, len(newPath)+len(d.Path)-oldPrefixLen)
			rewritten = append(rewritten, newPath...)
			rewritten = append(rewritten, d.Path[oldPrefixLen:]...)

			if err := s.writeStructural(tx, d, map[string]interface{}{
				"path":     rewritten,
				"level":    d.Level + levelDelta,
				"revision": d.Revision + 1,
			}); err != nil {
				return err
			}
		}

		folder.ParentID = newParentID
		folder.Path = newPath
		folder.Level = newLevel
		folder.Revision++
		result.Folder = folder
		result.DescendantsMoved = len(descendants)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Update applies non-structural attribute changes (tags, color, custom
// fields) without touching the tree.
func (s *FolderService) Update(ctx context.Context, tenantID, folderID uuid.UUID, updates map[string]interface{}) (*models.Folder, error) {
	if len(updates) == 0 {
		return nil, ErrInvalidOperation
	}

	var updated models.Folder
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.fetch(tx, tenantID, folderID)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Folder{}).Where("id = ?", folder.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("folder update failed: %w", err)
		}
		return tx.First(&updated, "id = ?", folder.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a folder. The folder must be empty: any child folder
// or item referencing it is a conflict. Grants on the folder are
// removed with it.
func (s *FolderService) Delete(ctx context.Context, tenantID, folderID uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.fetch(tx, tenantID, folderID)
		if err != nil {
			return err
		}

		var childCount int64
		if err := tx.Model(&models.Folder{}).Where("parent_id = ?", folder.ID).Count(&childCount).Error; err != nil {
			return fmt.Errorf("child count failed: %w", err)
		}
		if childCount > 0 {
			return fmt.Errorf("%w: folder has child folders", ErrConflict)
		}

		var itemCount int64
		if err := tx.Model(&models.Item{}).Where("folder_id = ?", folder.ID).Count(&itemCount).Error; err != nil {
			return fmt.Errorf("item count failed: %w", err)
		}
		if itemCount > 0 {
			return fmt.Errorf("%w: folder still contains items", ErrConflict)
		}

		if err := tx.Where("resource_id = ? AND resource_type = ?", folder.ID, models.ResourceTypeFolder).
			Delete(&models.Grant{}).Error; err != nil {
			return fmt.Errorf("grant cleanup failed: %w", err)
		}

		result := tx.Where("id = ? AND revision = ?", folder.ID, folder.Revision).Delete(&models.Folder{})
		if result.Error != nil {
			return fmt.Errorf("folder delete failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: folder changed concurrently", ErrConflict)
		}
		return nil
	})
}

// Get fetches a single folder scoped to its tenant.
func (s *FolderService) Get(ctx context.Context, tenantID, folderID uuid.UUID) (*models.Folder, error) {
	return s.fetch(s.DB.WithContext(ctx), tenantID, folderID)
}

// Ancestors resolves a folder's breadcrumb purely from its materialized
// path, ordered root-first and ending with the folder itself.
func (s *FolderService) Ancestors(ctx context.Context, tenantID, folderID uuid.UUID) ([]models.Folder, error) {
	folder, err := s.fetch(s.DB.WithContext(ctx), tenantID, folderID)
	if err != nil {
		return nil, err
	}

	chain := make([]models.Folder, 0, len(folder.Path)+1)
	if len(folder.Path) > 0 {
		var ancestors []models.Folder
		if err := s.DB.WithContext(ctx).Where("id IN ?", []uuid.UUID(folder.Path)).Find(&ancestors).Error; err != nil {
			return nil, fmt.Errorf("ancestor lookup failed: %w", err)
		}
		byID := make(map[uuid.UUID]models.Folder, len(ancestors))
		for _, a := range ancestors {
			byID[a.ID] = a
		}
		for _, id := range folder.Path {
			if a, ok := byID[id]; ok {
				chain = append(chain, a)
			}
		}
	}
	return append(chain, *folder), nil
}

// Descendants lists a folder's full subtree, shallowest first.
func (s *FolderService) Descendants(ctx context.Context, tenantID, folderID uuid.UUID) ([]models.Folder, error) {
	folder, err := s.fetch(s.DB.WithContext(ctx), tenantID, folderID)
	if err != nil {
		return nil, err
	}
	return s.descendants(s.DB.WithContext(ctx), tenantID, folder)
}

// ListChildren returns the direct children of a folder, or the tenant's
// root folders when parentID is nil.
func (s *FolderService) ListChildren(ctx context.Context, tenantID uuid.UUID, parentID *uuid.UUID) ([]models.Folder, error) {
	query := s.DB.WithContext(ctx).Where("owner_id = ?", tenantID)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		if _, err := s.fetch(s.DB.WithContext(ctx), tenantID, *parentID); err != nil {
			return nil, err
		}
		query = query.Where("parent_id = ?", *parentID)
	}

	var folders []models.Folder
	if err := query.Order("name ASC").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("child listing failed: %w", err)
	}
	return folders, nil
}

func (s *FolderService) fetch(tx *gorm.DB, tenantID, folderID uuid.UUID) (*models.Folder, error) {
	var folder models.Folder
	err := tx.First(&folder, "id = ? AND owner_id = ?", folderID, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("folder lookup failed: %w", err)
	}
	return &folder, nil
}

// descendants selects the whole subtree in a single query: a direct
// child's path equals the folder's subtree prefix, deeper descendants
// extend it with a slash. Ordered by level so parents precede children.
func (s *FolderService) descendants(tx *gorm.DB, tenantID uuid.UUID, folder *models.Folder) ([]models.Folder, error) {
	prefix := folder.SubtreePrefix()
	var rows []models.Folder
	err := tx.Where("owner_id = ?", tenantID).
		Where("path = ? OR path LIKE ?", prefix, prefix+"/%").
		Order("level ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("descendant lookup failed: %w", err)
	}
	return rows, nil
}

// writeStructural applies a structural update guarded by the row's
// current revision; zero rows affected means a concurrent writer won.
func (s *FolderService) writeStructural(tx *gorm.DB, folder *models.Folder, updates map[string]interface{}) error {
	result := tx.Model(&models.Folder{}).
		Where("id = ? AND revision = ?", folder.ID, folder.Revision).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("structural update failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: folder tree changed concurrently", ErrConflict)
	}
	return nil
}

func (s *FolderService) siblingNameTaken(tx *gorm.DB, tenantID uuid.UUID, parentID *uuid.UUID, name string, excludeID uuid.UUID) (bool, error) {
	query := tx.Model(&models.Folder{}).Where("owner_id = ? AND name = ?", tenantID, name)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("sibling check failed: %w", err)
	}
	return count > 0, nil
}
