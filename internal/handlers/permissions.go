package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stockroom/backend/internal/middleware"
	"github.com/stockroom/backend/internal/models"
	"github.com/stockroom/backend/internal/services"
	"github.com/stockroom/backend/pkg/logger"
	"github.com/stockroom/backend/pkg/utils"
	"gorm.io/gorm"
)

type PermissionsHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Audit  *services.AuditService
}

func NewPermissionsHandler(db *gorm.DB, access *services.AccessService, audit *services.AuditService) *PermissionsHandler {
	return &PermissionsHandler{DB: db, Access: access, Audit: audit}
}

// resourceName resolves the display name for activity messages. Best
// effort only, an empty name never blocks the grant itself.
func (h *PermissionsHandler) resourceName(resourceID uuid.UUID, resourceType models.ResourceType) string {
	switch resourceType {
	case models.ResourceTypeFolder:
		var folder models.Folder
		if err := h.DB.Select("name").First(&folder, "id = ?", resourceID).Error; err == nil {
			return folder.Name
		}
	case models.ResourceTypeItem:
		var item models.Item
		if err := h.DB.Select("name").First(&item, "id = ?", resourceID).Error; err == nil {
			return item.Name
		}
	}
	return ""
}

type grantRequest struct {
	ResourceID   uuid.UUID           `json:"resourceID"`
	ResourceType models.ResourceType `json:"resourceType"`
	GranteeID    uuid.UUID           `json:"granteeID"`
	AccessLevel  models.AccessLevel  `json:"accessLevel"`
	ExpiresAt    *time.Time          `json:"expiresAt"`
}

// Grant upserts the single grant for (resource, grantee). Re-granting
// replaces the previous level and expiry.
func (h *PermissionsHandler) Grant(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ResourceID == uuid.Nil || req.GranteeID == uuid.Nil {
		return utils.Error(c, fiber.StatusBadRequest, "resourceID and granteeID are required")
	}
	if !req.ResourceType.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid resourceType")
	}
	if !req.AccessLevel.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid accessLevel")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return utils.Error(c, fiber.StatusBadRequest, "expiresAt must be in the future")
	}

	grant, err := h.Access.Grant(c.Context(), currentUser.ID, req.ResourceID, req.ResourceType, req.GranteeID, req.AccessLevel, req.ExpiresAt)
	if err != nil {
		if err == services.ErrForbidden {
			logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
				"action":    "grant_create",
				"target_id": req.ResourceID.String(),
			})
		}
		return serviceError(c, err)
	}

	details := map[string]interface{}{
		"grantee_id":    grant.GranteeID.String(),
		"access_level":  string(grant.AccessLevel),
		"resource_name": h.resourceName(grant.ResourceID, grant.ResourceType),
	}
	if grant.ExpiresAt != nil {
		details["expires_at"] = grant.ExpiresAt.Format(time.RFC3339)
	}
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "grant.create",
		ResourceType: string(grant.ResourceType),
		ResourceID:   &grant.ResourceID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, grant)
}

type revokeRequest struct {
	ResourceID   uuid.UUID           `json:"resourceID"`
	ResourceType models.ResourceType `json:"resourceType"`
	GranteeID    uuid.UUID           `json:"granteeID"`
}

func (h *PermissionsHandler) Revoke(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req revokeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ResourceID == uuid.Nil || req.GranteeID == uuid.Nil || !req.ResourceType.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "resourceID, resourceType and granteeID are required")
	}

	if err := h.Access.Revoke(c.Context(), currentUser.ID, req.ResourceID, req.ResourceType, req.GranteeID); err != nil {
		return serviceError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "grant.revoke",
		ResourceType: string(req.ResourceType),
		ResourceID:   &req.ResourceID,
		Details: map[string]interface{}{
			"grantee_id":    req.GranteeID.String(),
			"resource_name": h.resourceName(req.ResourceID, req.ResourceType),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"revoked": true})
}

func (h *PermissionsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	resourceID, err := parseUUID(c.Query("resourceID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid resourceID")
	}
	resourceType := models.ResourceType(strings.TrimSpace(c.Query("resourceType")))
	if !resourceType.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid resourceType")
	}

	grants, err := h.Access.ListGrants(c.Context(), currentUser.ID, resourceID, resourceType)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, grants)
}

// CheckAccess exposes the resolver decision directly so clients can
// grey out actions they would not be allowed to perform.
func (h *PermissionsHandler) CheckAccess(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	resourceID, err := parseUUID(c.Query("resourceID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid resourceID")
	}
	resourceType := models.ResourceType(strings.TrimSpace(c.Query("resourceType")))
	if !resourceType.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid resourceType")
	}
	level := models.AccessLevel(strings.TrimSpace(c.Query("level", string(models.AccessLevelView))))
	if !level.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid level")
	}

	err = h.Access.Check(c.Context(), currentUser.ID, resourceID, resourceType, level)
	switch err {
	case nil:
		return utils.Success(c, fiber.StatusOK, fiber.Map{"allowed": true})
	case services.ErrForbidden:
		return utils.Success(c, fiber.StatusOK, fiber.Map{"allowed": false})
	default:
		return serviceError(c, err)
	}
}
