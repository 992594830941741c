package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stockroom/backend/internal/models"
	"github.com/stockroom/backend/internal/storage"
	"github.com/stockroom/backend/pkg/logger"
	"gorm.io/gorm"
)

type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
}

// AuditService is the write-only activity sink. Entries are queued and
// persisted by a background goroutine, so a slow or failing audit write
// never rolls back or fails the primary operation.
type AuditService struct {
	DB      *gorm.DB
	Storage *storage.MinIOClient
	queue   chan models.AuditLog
}

func NewAuditService(db *gorm.DB, storageClient *storage.MinIOClient) *AuditService {
	s := &AuditService{
		DB:      db,
		Storage: storageClient,
		queue:   make(chan models.AuditLog, 1000),
	}
	go s.processQueue()
	return s
}

func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC(),
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
			continue
		}
		s.generateActivities(row)
	}
}

func (s *AuditService) generateActivities(log models.AuditLog) {
	if log.UserID == nil {
		return
	}

	var otherActivities []models.Activity

	switch log.Action {
	case "grant.create":
		otherActivities = s.activitiesForGrantCreate(log)
	case "grant.revoke":
		otherActivities = s.activitiesForGrantRevoke(log)
	}

	for i := range otherActivities {
		if otherActivities[i].UserID == *log.UserID {
			continue
		}
		if err := s.DB.Create(&otherActivities[i]).Error; err != nil {
			logger.Error("activity_insert_failed", err, map[string]interface{}{
				"action":  log.Action,
				"user_id": otherActivities[i].UserID.String(),
			})
		}
	}

	selfActivity := s.selfActivityForAction(log)
	if selfActivity != nil {
		if err := s.DB.Create(selfActivity).Error; err != nil {
			logger.Error("self_activity_insert_failed", err, map[string]interface{}{
				"action": log.Action,
			})
		}
	}
}

func (s *AuditService) selfActivityForAction(log models.AuditLog) *models.Activity {
	if log.UserID == nil {
		return nil
	}

	actorID := *log.UserID
	resourceName := detailString(log.Details, "folder_name")
	if resourceName == "" {
		resourceName = detailString(log.Details, "item_name")
	}
	if resourceName == "" {
		resourceName = detailString(log.Details, "resource_name")
	}

	var message string
	var resourceType string

	switch log.Action {
	case "folder.create":
		message = fmt.Sprintf("You created folder %q", resourceName)
		resourceType = "folder"
	case "folder.rename":
		message = fmt.Sprintf("You renamed a folder to %q", resourceName)
		resourceType = "folder"
	case "folder.move":
		message = fmt.Sprintf("You moved folder %q", resourceName)
		resourceType = "folder"
	case "folder.delete":
		message = fmt.Sprintf("You deleted folder %q", resourceName)
		resourceType = "folder"
	case "item.create":
		message = fmt.Sprintf("You added %q", resourceName)
		resourceType = "item"
	case "item.update":
		message = fmt.Sprintf("You updated %q", resourceName)
		resourceType = "item"
	case "item.delete":
		message = fmt.Sprintf("You deleted %q", resourceName)
		resourceType = "item"
	case "item.low_stock":
		message = fmt.Sprintf("%q is below its minimum level", resourceName)
		resourceType = "item"
	case "item.import":
		message = fmt.Sprintf("You imported %s items", detailString(log.Details, "imported"))
		resourceType = "item"
		resourceName = "Import"
	case "grant.create":
		message = fmt.Sprintf("You shared %q", resourceName)
		resourceType = log.ResourceType
	case "grant.revoke":
		message = fmt.Sprintf("You revoked access to %q", resourceName)
		resourceType = log.ResourceType
	case "user.login":
		message = "You signed in"
		resourceType = "user"
		resourceName = "Account"
	case "user.register":
		message = "Welcome to Stockroom"
		resourceType = "user"
		resourceName = "Account"
	case "user.password_change":
		message = "You changed your password"
		resourceType = "user"
		resourceName = "Account"
	case "user.profile_update":
		message = "You updated your profile"
		resourceType = "user"
		resourceName = "Account"
	default:
		return nil
	}

	return &models.Activity{
		UserID:       actorID,
		ActorID:      actorID,
		Action:       log.Action,
		ResourceType: resourceType,
		ResourceID:   log.ResourceID,
		ResourceName: resourceName,
		Message:      message,
	}
}

func (s *AuditService) activitiesForGrantCreate(log models.AuditLog) []models.Activity {
	if log.UserID == nil || log.ResourceID == nil {
		return nil
	}

	granteeIDStr := detailString(log.Details, "grantee_id")
	if granteeIDStr == "" {
		return nil
	}
	granteeID, err := uuid.Parse(granteeIDStr)
	if err != nil {
		return nil
	}

	resourceName := detailString(log.Details, "resource_name")
	actorName := s.getActorName(*log.UserID)

	return []models.Activity{{
		UserID:       granteeID,
		ActorID:      *log.UserID,
		Action:       log.Action,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		ResourceName: resourceName,
		Message:      fmt.Sprintf("%s shared %q with you", actorName, resourceName),
	}}
}

func (s *AuditService) activitiesForGrantRevoke(log models.AuditLog) []models.Activity {
	if log.UserID == nil || log.ResourceID == nil {
		return nil
	}

	granteeIDStr := detailString(log.Details, "grantee_id")
	if granteeIDStr == "" {
		return nil
	}
	granteeID, err := uuid.Parse(granteeIDStr)
	if err != nil {
		return nil
	}

	resourceName := detailString(log.Details, "resource_name")
	actorName := s.getActorName(*log.UserID)

	return []models.Activity{{
		UserID:       granteeID,
		ActorID:      *log.UserID,
		Action:       log.Action,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		ResourceName: resourceName,
		Message:      fmt.Sprintf("%s revoked your access to %q", actorName, resourceName),
	}}
}

func (s *AuditService) getActorName(userID uuid.UUID) string {
	var user models.User
	if err := s.DB.Select("first_name", "last_name").First(&user, "id = ?", userID).Error; err != nil {
		return "Someone"
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// StartExporter runs a background goroutine that periodically exports
// new audit log rows to object storage as NDJSON files.
func (s *AuditService) StartExporter(interval time.Duration) {
	if s.Storage == nil {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no storage client configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			s.exportToStorage()
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

func (s *AuditService) exportToStorage() {
	var cursor models.AuditExportCursor
	err := s.DB.First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cursor = models.AuditExportCursor{
				LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			if createErr := s.DB.Create(&cursor).Error; createErr != nil {
				logger.Error("audit_export_cursor_create_failed", createErr, nil)
				return
			}
		} else {
			logger.Error("audit_export_cursor_load_failed", err, nil)
			return
		}
	}

	var logs []models.AuditLog
	if err := s.DB.Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(10000).
		Find(&logs).Error; err != nil {
		logger.Error("audit_export_query_failed", err, nil)
		return
	}

	if len(logs) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range logs {
		if err := enc.Encode(row); err != nil {
			logger.Error("audit_export_encode_failed", err, map[string]interface{}{
				"log_id": row.ID.String(),
			})
			continue
		}
	}

	now := time.Now().UTC()
	objectName := fmt.Sprintf("audit-logs/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
	)

	if err := s.Storage.Upload(
		context.Background(),
		objectName,
		&buf,
		int64(buf.Len()),
		"application/x-ndjson",
	); err != nil {
		logger.Error("audit_export_upload_failed", err, map[string]interface{}{
			"object_name": objectName,
			"count":       len(logs),
		})
		return
	}

	lastCreatedAt := logs[len(logs)-1].CreatedAt
	s.DB.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	})

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
}

func detailString(details map[string]interface{}, key string) string {
	if details == nil {
		return ""
	}
	v, ok := details[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}
