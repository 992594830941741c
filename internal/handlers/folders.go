package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stockroom/backend/internal/middleware"
	"github.com/stockroom/backend/internal/models"
	"github.com/stockroom/backend/internal/services"
	"github.com/stockroom/backend/pkg/logger"
	"github.com/stockroom/backend/pkg/utils"
	"gorm.io/gorm"
)

type FoldersHandler struct {
	DB      *gorm.DB
	Folders *services.FolderService
	Access  *services.AccessService
	Audit   *services.AuditService
}

func NewFoldersHandler(db *gorm.DB, folders *services.FolderService, access *services.AccessService, audit *services.AuditService) *FoldersHandler {
	return &FoldersHandler{DB: db, Folders: folders, Access: access, Audit: audit}
}

type createFolderRequest struct {
	Name         string                 `json:"name"`
	ParentID     *string                `json:"parentID"`
	Tags         models.StringList      `json:"tags"`
	Color        string                 `json:"color"`
	CustomFields map[string]interface{} `json:"customFields"`
}

func (h *FoldersHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}

	// New folders belong to the tree they are created in: a grantee with
	// edit on a shared parent creates folders owned by that tenant.
	tenantID := currentUser.ID

	var parentID *uuid.UUID
	if req.ParentID != nil && strings.TrimSpace(*req.ParentID) != "" {
		parsed, err := parseUUID(*req.ParentID)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
		}
		parentID = &parsed

		var parent models.Folder
		if err := h.DB.First(&parent, "id = ?", parsed).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusNotFound, "parent folder not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading parent")
		}
		if err := h.Access.Check(c.Context(), currentUser.ID, parent.ID, models.ResourceTypeFolder, models.AccessLevelEdit); err != nil {
			return serviceError(c, err)
		}
		tenantID = parent.OwnerID
	}

	folder, err := h.Folders.Create(c.Context(), tenantID, services.CreateFolderInput{
		Name:         name,
		ParentID:     parentID,
		Tags:         req.Tags,
		Color:        req.Color,
		CustomFields: req.CustomFields,
	})
	if err != nil {
		return serviceError(c, err)
	}

	logger.InfoWithUser(currentUser.ID.String(), "folder_created", map[string]interface{}{
		"folder_id": folder.ID.String(),
		"name":      folder.Name,
		"level":     folder.Level,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.create",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Details: map[string]interface{}{
			"folder_name": folder.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, folder)
}

func (h *FoldersHandler) ListRoots(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folders, err := h.Folders.ListChildren(c.Context(), currentUser.ID, nil)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, folders)
}

func (h *FoldersHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.loadChecked(c, models.AccessLevelView)
	if folder == nil {
		return err
	}

	return utils.Success(c, fiber.StatusOK, folder)
}

func (h *FoldersHandler) ListChildren(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.loadChecked(c, models.AccessLevelView)
	if folder == nil {
		return err
	}

	children, svcErr := h.Folders.ListChildren(c.Context(), folder.OwnerID, &folder.ID)
	if svcErr != nil {
		return serviceError(c, svcErr)
	}

	return utils.Success(c, fiber.StatusOK, children)
}

// Path returns the breadcrumb chain for a folder, root first, derived
// from the materialized path.
func (h *FoldersHandler) Path(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.loadChecked(c, models.AccessLevelView)
	if folder == nil {
		return err
	}

	chain, svcErr := h.Folders.Ancestors(c.Context(), folder.OwnerID, folder.ID)
	if svcErr != nil {
		return serviceError(c, svcErr)
	}

	return utils.Success(c, fiber.StatusOK, chain)
}

type updateFolderRequest struct {
	Name         *string                `json:"name"`
	Tags         *models.StringList     `json:"tags"`
	Color        *string                `json:"color"`
	CustomFields map[string]interface{} `json:"customFields"`
}

func (h *FoldersHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.loadChecked(c, models.AccessLevelEdit)
	if folder == nil {
		return err
	}

	var req updateFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	result := folder
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name cannot be empty")
		}
		renamed, svcErr := h.Folders.Rename(c.Context(), folder.OwnerID, folder.ID, name)
		if svcErr != nil {
			return serviceError(c, svcErr)
		}
		result = renamed

		h.Audit.LogAsync(services.AuditEntry{
			UserID:       &currentUser.ID,
			Action:       "folder.rename",
			ResourceType: "folder",
			ResourceID:   &folder.ID,
			Details: map[string]interface{}{
				"folder_name": name,
			},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})
	}

	updates := map[string]interface{}{}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	if req.Color != nil {
		updates["color"] = strings.TrimSpace(*req.Color)
	}
	if req.CustomFields != nil {
		updates["custom_fields"] = req.CustomFields
	}
	if len(updates) > 0 {
		updated, svcErr := h.Folders.Update(c.Context(), folder.OwnerID, folder.ID, updates)
		if svcErr != nil {
			return serviceError(c, svcErr)
		}
		result = updated
	}

	if req.Name == nil && len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	return utils.Success(c, fiber.StatusOK, result)
}

type moveFolderRequest struct {
	NewParentID *string `json:"newParentID"`
}

func (h *FoldersHandler) Move(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.loadChecked(c, models.AccessLevelEdit)
	if folder == nil {
		return err
	}

	var req moveFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var newParentID *uuid.UUID
	if req.NewParentID != nil && strings.TrimSpace(*req.NewParentID) != "" {
		parsed, parseErr := parseUUID(*req.NewParentID)
		if parseErr != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid newParentID")
		}
		newParentID = &parsed

		if err := h.Access.Check(c.Context(), currentUser.ID, parsed, models.ResourceTypeFolder, models.AccessLevelEdit); err != nil {
			return serviceError(c, err)
		}
	}

	result, svcErr := h.Folders.Move(c.Context(), folder.OwnerID, folder.ID, newParentID)
	if svcErr != nil {
		return serviceError(c, svcErr)
	}

	logger.InfoWithUser(currentUser.ID.String(), "folder_moved", map[string]interface{}{
		"folder_id":         folder.ID.String(),
		"descendants_moved": result.DescendantsMoved,
		"new_level":         result.Folder.Level,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.move",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Details: map[string]interface{}{
			"folder_name":       result.Folder.Name,
			"descendants_moved": result.DescendantsMoved,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"folder":           result.Folder,
		"descendantsMoved": result.DescendantsMoved,
	})
}

func (h *FoldersHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folder, err := h.loadChecked(c, models.AccessLevelAdmin)
	if folder == nil {
		return err
	}

	if svcErr := h.Folders.Delete(c.Context(), folder.OwnerID, folder.ID); svcErr != nil {
		return serviceError(c, svcErr)
	}

	logger.InfoWithUser(currentUser.ID.String(), "folder_deleted", map[string]interface{}{
		"folder_id": folder.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "folder.delete",
		ResourceType: "folder",
		ResourceID:   &folder.ID,
		Details: map[string]interface{}{
			"folder_name": folder.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "folder deleted"})
}

// loadChecked fetches the folder from the :id param and runs the access
// resolver at the required level. A nil folder means the error response
// has already been written; callers return the accompanying error as-is.
func (h *FoldersHandler) loadChecked(c *fiber.Ctx, required models.AccessLevel) (*models.Folder, error) {
	currentUser := middleware.GetCurrentUser(c)

	folderID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}

	var folder models.Folder
	if err := h.DB.First(&folder, "id = ?", folderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.Error(c, fiber.StatusNotFound, "folder not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading folder")
	}

	if err := h.Access.Check(c.Context(), currentUser.ID, folder.ID, models.ResourceTypeFolder, required); err != nil {
		return nil, serviceError(c, err)
	}

	return &folder, nil
}
