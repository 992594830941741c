package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stockroom/backend/internal/middleware"
	"github.com/stockroom/backend/internal/models"
	"github.com/stockroom/backend/internal/services"
	"github.com/stockroom/backend/internal/storage"
	"github.com/stockroom/backend/pkg/logger"
	"github.com/stockroom/backend/pkg/utils"
	"gorm.io/gorm"
)

type ItemsHandler struct {
	DB      *gorm.DB
	Storage *storage.MinIOClient
	Access  *services.AccessService
	Audit   *services.AuditService
}

func NewItemsHandler(db *gorm.DB, storageClient *storage.MinIOClient, access *services.AccessService, audit *services.AuditService) *ItemsHandler {
	return &ItemsHandler{DB: db, Storage: storageClient, Access: access, Audit: audit}
}

type createItemRequest struct {
	Name     string            `json:"name"`
	Quantity int64             `json:"quantity"`
	MinLevel int64             `json:"minLevel"`
	Price    float64           `json:"price"`
	Tags     models.StringList `json:"tags"`
	Notes    string            `json:"notes"`
	FolderID *string           `json:"folderID"`
}

func (h *ItemsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createItemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	if req.Quantity < 0 || req.MinLevel < 0 {
		return utils.Error(c, fiber.StatusBadRequest, "quantity and minLevel must not be negative")
	}

	// Items filed into a shared folder belong to that folder's tenant,
	// same ownership rule as subfolder creation.
	ownerID := currentUser.ID

	var folderID *uuid.UUID
	if req.FolderID != nil && strings.TrimSpace(*req.FolderID) != "" {
		parsed, err := parseUUID(*req.FolderID)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid folderID")
		}
		folderID = &parsed

		var folder models.Folder
		if err := h.DB.First(&folder, "id = ?", parsed).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusNotFound, "folder not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading folder")
		}
		if err := h.Access.Check(c.Context(), currentUser.ID, folder.ID, models.ResourceTypeFolder, models.AccessLevelEdit); err != nil {
			return serviceError(c, err)
		}
		ownerID = folder.OwnerID
	}

	item := models.Item{
		OwnerID:  ownerID,
		Name:     name,
		Quantity: req.Quantity,
		MinLevel: req.MinLevel,
		Price:    req.Price,
		Tags:     req.Tags,
		Notes:    req.Notes,
		FolderID: folderID,
	}
	if err := h.DB.Create(&item).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating item")
	}

	logger.InfoWithUser(currentUser.ID.String(), "item_created", map[string]interface{}{
		"item_id":  item.ID.String(),
		"name":     item.Name,
		"quantity": item.Quantity,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "item.create",
		ResourceType: "item",
		ResourceID:   &item.ID,
		Details: map[string]interface{}{
			"item_name": item.Name,
			"quantity":  item.Quantity,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, item)
}

func (h *ItemsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var folderID *uuid.UUID
	if raw := strings.TrimSpace(c.Query("folderID")); raw != "" && raw != "none" {
		parsed, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid folderID")
		}
		folderID = &parsed
	}

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("owner_id = ?", currentUser.ID)
		if folderID != nil {
			db = db.Where("folder_id = ?", *folderID)
		} else if c.Query("folderID") == "none" {
			db = db.Where("folder_id IS NULL")
		}
		if c.QueryBool("lowStock") {
			db = db.Where("min_level > 0 AND quantity <= min_level")
		}
		if search := strings.TrimSpace(c.Query("search")); search != "" {
			db = db.Where("name LIKE ?", "%"+search+"%")
		}
		return db
	}

	var total int64
	if err := scope(h.DB.Model(&models.Item{})).Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting items")
	}

	params := utils.ParsePagination(c)
	var items []models.Item
	if err := utils.ApplyPagination(scope(h.DB), params).Order("name ASC").Find(&items).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing items")
	}

	return utils.Paginated(c, items, params.Page, params.Limit, total)
}

func (h *ItemsHandler) Get(c *fiber.Ctx) error {
	item, err := h.loadItemChecked(c, models.AccessLevelView)
	if item == nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, item)
}

type updateItemRequest struct {
	Name     *string            `json:"name"`
	MinLevel *int64             `json:"minLevel"`
	Price    *float64           `json:"price"`
	Tags     *models.StringList `json:"tags"`
	Notes    *string            `json:"notes"`
	FolderID *string            `json:"folderID"`
}

func (h *ItemsHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	item, err := h.loadItemChecked(c, models.AccessLevelEdit)
	if item == nil {
		return err
	}

	var req updateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name must not be empty")
		}
		item.Name = name
	}
	if req.MinLevel != nil {
		if *req.MinLevel < 0 {
			return utils.Error(c, fiber.StatusBadRequest, "minLevel must not be negative")
		}
		item.MinLevel = *req.MinLevel
	}
	if req.Price != nil {
		item.Price = *req.Price
	}
	if req.Tags != nil {
		item.Tags = *req.Tags
	}
	if req.Notes != nil {
		item.Notes = *req.Notes
	}

	// Refiling into another folder needs edit on the destination too, and
	// the destination must live in the same tenant tree as the item.
	if req.FolderID != nil {
		if strings.TrimSpace(*req.FolderID) == "" {
			item.FolderID = nil
		} else {
			parsed, parseErr := parseUUID(*req.FolderID)
			if parseErr != nil {
				return utils.Error(c, fiber.StatusBadRequest, "invalid folderID")
			}
			var folder models.Folder
			if err := h.DB.First(&folder, "id = ?", parsed).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return utils.Error(c, fiber.StatusNotFound, "folder not found")
				}
				return utils.Error(c, fiber.StatusInternalServerError, "failed loading folder")
			}
			if folder.OwnerID != item.OwnerID {
				return utils.Error(c, fiber.StatusBadRequest, "folder belongs to a different owner")
			}
			if err := h.Access.Check(c.Context(), currentUser.ID, folder.ID, models.ResourceTypeFolder, models.AccessLevelEdit); err != nil {
				return serviceError(c, err)
			}
			item.FolderID = &parsed
		}
	}

	if err := h.DB.Save(item).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating item")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "item.update",
		ResourceType: "item",
		ResourceID:   &item.ID,
		Details: map[string]interface{}{
			"item_name": item.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, item)
}

type adjustQuantityRequest struct {
	Delta    *int64 `json:"delta"`
	Quantity *int64 `json:"quantity"`
}

// AdjustQuantity applies either a relative delta or an absolute quantity.
// Crossing the reorder threshold emits a low-stock activity.
func (h *ItemsHandler) AdjustQuantity(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	item, err := h.loadItemChecked(c, models.AccessLevelEdit)
	if item == nil {
		return err
	}

	var req adjustQuantityRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if (req.Delta == nil) == (req.Quantity == nil) {
		return utils.Error(c, fiber.StatusBadRequest, "exactly one of delta or quantity is required")
	}

	wasBelow := item.BelowMinLevel()
	previous := item.Quantity

	next := previous
	if req.Delta != nil {
		next = previous + *req.Delta
	} else {
		next = *req.Quantity
	}
	if next < 0 {
		return utils.Error(c, fiber.StatusBadRequest, "quantity must not fall below zero")
	}

	item.Quantity = next
	if err := h.DB.Model(item).Update("quantity", next).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating quantity")
	}

	logger.InfoWithUser(currentUser.ID.String(), "item_quantity_adjusted", map[string]interface{}{
		"item_id":  item.ID.String(),
		"previous": previous,
		"quantity": next,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "item.update",
		ResourceType: "item",
		ResourceID:   &item.ID,
		Details: map[string]interface{}{
			"item_name":         item.Name,
			"previous_quantity": previous,
			"quantity":          next,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	if !wasBelow && item.BelowMinLevel() {
		h.Audit.LogAsync(services.AuditEntry{
			UserID:       &currentUser.ID,
			Action:       "item.low_stock",
			ResourceType: "item",
			ResourceID:   &item.ID,
			Details: map[string]interface{}{
				"item_name": item.Name,
				"quantity":  next,
				"min_level": item.MinLevel,
			},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})
	}

	return utils.Success(c, fiber.StatusOK, item)
}

func (h *ItemsHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	item, err := h.loadItemChecked(c, models.AccessLevelAdmin)
	if item == nil {
		return err
	}

	if err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ? AND resource_type = ?", item.ID, models.ResourceTypeItem).
			Delete(&models.Grant{}).Error; err != nil {
			return err
		}
		return tx.Delete(item).Error
	}); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting item")
	}

	if item.PhotoPath != nil {
		_ = h.Storage.Delete(c.Context(), *item.PhotoPath)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "item.delete",
		ResourceType: "item",
		ResourceID:   &item.ID,
		Details: map[string]interface{}{
			"item_name": item.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

func (h *ItemsHandler) UploadPhoto(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	item, err := h.loadItemChecked(c, models.AccessLevelEdit)
	if item == nil {
		return err
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "photo is required")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded photo")
	}
	defer stream.Close()

	filename := filepath.Base(strings.TrimSpace(fileHeader.Filename))
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if !strings.HasPrefix(contentType, "image/") {
		return utils.Error(c, fiber.StatusBadRequest, "photo must be an image")
	}

	objectName := fmt.Sprintf("photos/%s/%s/%s", item.OwnerID.String(), item.ID.String(), filename)
	if err := h.Storage.Upload(c.Context(), objectName, stream, fileHeader.Size, contentType); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed uploading photo")
	}

	previous := item.PhotoPath
	item.PhotoPath = &objectName
	if err := h.DB.Model(item).Update("photo_path", objectName).Error; err != nil {
		_ = h.Storage.Delete(c.Context(), objectName)
		return utils.Error(c, fiber.StatusInternalServerError, "failed saving photo reference")
	}
	if previous != nil && *previous != objectName {
		_ = h.Storage.Delete(c.Context(), *previous)
	}

	logger.InfoWithUser(currentUser.ID.String(), "item_photo_uploaded", map[string]interface{}{
		"item_id":      item.ID.String(),
		"storage_path": objectName,
		"size":         fileHeader.Size,
	})

	return utils.Success(c, fiber.StatusOK, item)
}

func (h *ItemsHandler) DownloadPhoto(c *fiber.Ctx) error {
	item, err := h.loadItemChecked(c, models.AccessLevelView)
	if item == nil {
		return err
	}
	if item.PhotoPath == nil {
		return utils.Error(c, fiber.StatusNotFound, "item has no photo")
	}

	obj, err := h.Storage.Download(c.Context(), *item.PhotoPath)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed downloading photo")
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading object metadata")
	}

	contentType := stat.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set("Content-Type", contentType)
	c.Set("Content-Length", strconv.FormatInt(stat.Size, 10))
	c.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(*item.PhotoPath)))

	return c.SendStream(obj, int(stat.Size))
}

var itemExportHeader = []string{"Name", "Quantity", "MinLevel", "Price", "Tags", "Notes", "FolderID"}

func (h *ItemsHandler) Export(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	format := strings.ToLower(strings.TrimSpace(c.Query("format", "csv")))
	if format != "csv" && format != "json" {
		return utils.Error(c, fiber.StatusBadRequest, "format must be csv or json")
	}

	var items []models.Item
	if err := h.DB.Where("owner_id = ?", currentUser.ID).Order("name ASC").Find(&items).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading items")
	}

	if format == "json" {
		c.Set("Content-Type", "application/json")
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "items.json"))
		return c.JSON(fiber.Map{"success": true, "data": items})
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "items.csv"))

	writer := csv.NewWriter(c.Response().BodyWriter())
	_ = writer.Write(itemExportHeader)
	for _, item := range items {
		folderID := ""
		if item.FolderID != nil {
			folderID = item.FolderID.String()
		}
		_ = writer.Write([]string{
			item.Name,
			strconv.FormatInt(item.Quantity, 10),
			strconv.FormatInt(item.MinLevel, 10),
			strconv.FormatFloat(item.Price, 'f', -1, 64),
			strings.Join(item.Tags, "|"),
			item.Notes,
			folderID,
		})
	}
	writer.Flush()
	return nil
}

// Import ingests a CSV in the Export column layout. Rows are validated
// individually; the response reports imported and rejected counts.
func (h *ItemsHandler) Import(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	reader := csv.NewReader(stream)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "empty or unreadable CSV")
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "name") {
		return utils.Error(c, fiber.StatusBadRequest, "unexpected CSV header")
	}

	imported := 0
	var rejected []string
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		item, rowErr := h.itemFromRecord(currentUser.ID, record)
		if rowErr != nil {
			rejected = append(rejected, fmt.Sprintf("line %d: %v", line, rowErr))
			continue
		}
		if err := h.DB.Create(item).Error; err != nil {
			rejected = append(rejected, fmt.Sprintf("line %d: insert failed", line))
			continue
		}
		imported++
	}

	logger.InfoWithUser(currentUser.ID.String(), "items_imported", map[string]interface{}{
		"imported": imported,
		"rejected": len(rejected),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "item.import",
		ResourceType: "item",
		Details: map[string]interface{}{
			"imported": imported,
			"rejected": len(rejected),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"imported": imported,
		"rejected": rejected,
	})
}

func (h *ItemsHandler) itemFromRecord(ownerID uuid.UUID, record []string) (*models.Item, error) {
	if len(record) < 2 {
		return nil, fmt.Errorf("expected at least name and quantity")
	}
	name := strings.TrimSpace(record[0])
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	quantity, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
	if err != nil || quantity < 0 {
		return nil, fmt.Errorf("invalid quantity")
	}

	item := &models.Item{OwnerID: ownerID, Name: name, Quantity: quantity}

	if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
		minLevel, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
		if err != nil || minLevel < 0 {
			return nil, fmt.Errorf("invalid minLevel")
		}
		item.MinLevel = minLevel
	}
	if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
		price, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price")
		}
		item.Price = price
	}
	if len(record) > 4 && strings.TrimSpace(record[4]) != "" {
		item.Tags = models.StringList(strings.Split(record[4], "|"))
	}
	if len(record) > 5 {
		item.Notes = record[5]
	}
	if len(record) > 6 && strings.TrimSpace(record[6]) != "" {
		folderID, err := parseUUID(record[6])
		if err != nil {
			return nil, fmt.Errorf("invalid folderID")
		}
		var folder models.Folder
		if err := h.DB.First(&folder, "id = ? AND owner_id = ?", folderID, ownerID).Error; err != nil {
			return nil, fmt.Errorf("folder not found")
		}
		item.FolderID = &folderID
	}

	return item, nil
}

// loadItemChecked mirrors the folder helper: parse :id, load globally,
// resolve access. A nil item means the response is already written.
func (h *ItemsHandler) loadItemChecked(c *fiber.Ctx, required models.AccessLevel) (*models.Item, error) {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return nil, utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	itemID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid item id")
	}

	var item models.Item
	if err := h.DB.First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.Error(c, fiber.StatusNotFound, "item not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading item")
	}

	if err := h.Access.Check(c.Context(), currentUser.ID, item.ID, models.ResourceTypeItem, required); err != nil {
		return nil, serviceError(c, err)
	}

	return &item, nil
}
