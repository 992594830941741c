package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stockroom/backend/internal/models"
	"gorm.io/gorm"
)

// AccessService is the single access-control resolver every folder and
// item operation goes through. Ownership always wins; otherwise the one
// non-expired grant for the (resource, grantee) pair decides, compared on
// the total order view < edit < admin. It is a pure decision function
// over current store state.
type AccessService struct {
	DB *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{DB: db}
}

// Check resolves whether principalID may perform an operation requiring
// the given level on the resource. It returns nil on allow, ErrForbidden
// on deny, ErrNotFound when the resource does not exist, and a wrapped
// store error on infrastructure failure.
func (a *AccessService) Check(ctx context.Context, principalID, resourceID uuid.UUID, resourceType models.ResourceType, required models.AccessLevel) error {
	if !resourceType.Valid() || !required.Valid() {
		return ErrInvalidOperation
	}

	ownerID, err := a.resourceOwner(ctx, resourceID, resourceType)
	if err != nil {
		return err
	}
	if ownerID == principalID {
		return nil
	}

	var grant models.Grant
	err = a.DB.WithContext(ctx).
		Where("resource_id = ? AND resource_type = ? AND grantee_id = ?", resourceID, resourceType, principalID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("grant lookup failed: %w", err)
	}

	if grant.AccessLevel.Rank() >= required.Rank() {
		return nil
	}
	return ErrForbidden
}

// Grant creates or replaces the grant for (resource, grantee). Granting
// is gated on admin over the target resource, so grant management is
// delegable via admin-level grants. Re-granting replaces the level and
// expiry in place, keeping at most one row per pair.
func (a *AccessService) Grant(ctx context.Context, granterID, resourceID uuid.UUID, resourceType models.ResourceType, granteeID uuid.UUID, level models.AccessLevel, expiresAt *time.Time) (*models.Grant, error) {
	if !level.Valid() || !resourceType.Valid() {
		return nil, ErrInvalidOperation
	}
	if err := a.Check(ctx, granterID, resourceID, resourceType, models.AccessLevelAdmin); err != nil {
		return nil, err
	}

	var grantee models.User
	if err := a.DB.WithContext(ctx).First(&grantee, "id = ?", granteeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("grantee lookup failed: %w", err)
	}

	ownerID, err := a.resourceOwner(ctx, resourceID, resourceType)
	if err != nil {
		return nil, err
	}
	if ownerID == granteeID {
		return nil, ErrInvalidOperation
	}

	var grant models.Grant
	err = a.DB.WithContext(ctx).
		Where("resource_id = ? AND resource_type = ? AND grantee_id = ?", resourceID, resourceType, granteeID).
		First(&grant).Error
	switch {
	case err == nil:
		grant.AccessLevel = level
		grant.ExpiresAt = expiresAt
		grant.GrantedByID = granterID
		if err := a.DB.WithContext(ctx).Save(&grant).Error; err != nil {
			return nil, fmt.Errorf("grant update failed: %w", err)
		}
		return &grant, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		grant = models.Grant{
			ResourceID:   resourceID,
			ResourceType: resourceType,
			GranteeID:    granteeID,
			AccessLevel:  level,
			GrantedByID:  granterID,
			ExpiresAt:    expiresAt,
		}
		if err := a.DB.WithContext(ctx).Create(&grant).Error; err != nil {
			return nil, fmt.Errorf("grant insert failed: %w", err)
		}
		return &grant, nil
	default:
		return nil, fmt.Errorf("grant lookup failed: %w", err)
	}
}

// Revoke removes the grant for (resource, grantee). Like Grant it
// requires admin over the resource.
func (a *AccessService) Revoke(ctx context.Context, granterID, resourceID uuid.UUID, resourceType models.ResourceType, granteeID uuid.UUID) error {
	if !resourceType.Valid() {
		return ErrInvalidOperation
	}
	if err := a.Check(ctx, granterID, resourceID, resourceType, models.AccessLevelAdmin); err != nil {
		return err
	}

	result := a.DB.WithContext(ctx).
		Where("resource_id = ? AND resource_type = ? AND grantee_id = ?", resourceID, resourceType, granteeID).
		Delete(&models.Grant{})
	if result.Error != nil {
		return fmt.Errorf("grant delete failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGrants returns every grant row on a resource, including expired
// ones. Listing is gated on admin over the resource.
func (a *AccessService) ListGrants(ctx context.Context, principalID, resourceID uuid.UUID, resourceType models.ResourceType) ([]models.Grant, error) {
	if !resourceType.Valid() {
		return nil, ErrInvalidOperation
	}
	if err := a.Check(ctx, principalID, resourceID, resourceType, models.AccessLevelAdmin); err != nil {
		return nil, err
	}

	var grants []models.Grant
	err := a.DB.WithContext(ctx).
		Preload("Grantee").
		Where("resource_id = ? AND resource_type = ?", resourceID, resourceType).
		Order("created_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("grant list failed: %w", err)
	}
	return grants, nil
}

// SweepExpired deletes grants whose expiry is past. Expiry is evaluated
// lazily on every Check, so this only reclaims storage.
func (a *AccessService) SweepExpired(ctx context.Context) (int64, error) {
	result := a.DB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now().UTC()).
		Delete(&models.Grant{})
	if result.Error != nil {
		return 0, fmt.Errorf("grant sweep failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (a *AccessService) resourceOwner(ctx context.Context, resourceID uuid.UUID, resourceType models.ResourceType) (uuid.UUID, error) {
	var ownerID uuid.UUID
	var err error
	switch resourceType {
	case models.ResourceTypeFolder:
		var folder models.Folder
		err = a.DB.WithContext(ctx).Select("owner_id").First(&folder, "id = ?", resourceID).Error
		ownerID = folder.OwnerID
	case models.ResourceTypeItem:
		var item models.Item
		err = a.DB.WithContext(ctx).Select("owner_id").First(&item, "id = ?", resourceID).Error
		ownerID = item.OwnerID
	default:
		return uuid.Nil, ErrInvalidOperation
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("resource lookup failed: %w", err)
	}
	return ownerID, nil
}
