package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stockroom/backend/internal/models"
)

func TestPermissionsAPI_GrantRevoke(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "perm-owner@example.com", "password123", models.UserRoleUser)
	grantee, granteeToken := createTestUser(t, env.db, "perm-grantee@example.com", "password123", models.UserRoleUser)
	_, strangerToken := createTestUser(t, env.db, "perm-stranger@example.com", "password123", models.UserRoleUser)

	folder := createFolderViaAPI(t, env, ownerToken, "Shared Bay", nil)
	folderID := folderIDOf(t, folder)

	grantBody := map[string]any{
		"resourceID":   folderID,
		"resourceType": "folder",
		"granteeID":    grantee.ID.String(),
		"accessLevel":  "view",
	}

	t.Run("only admins can grant", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/permissions", grantBody, authHeaders(strangerToken))
		assertStatus(t, resp, http.StatusForbidden)
	})

	t.Run("owner grants view", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/permissions", grantBody, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)

		data := dataMap(t, decodeJSONMap(t, resp))
		if data["accessLevel"] != "view" {
			t.Errorf("expected view grant, got %v", data["accessLevel"])
		}
	})

	t.Run("regrant upserts the level", func(t *testing.T) {
		body := map[string]any{
			"resourceID":   folderID,
			"resourceType": "folder",
			"granteeID":    grantee.ID.String(),
			"accessLevel":  "edit",
		}
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/permissions", body, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)

		var count int64
		if err := env.db.Model(&models.Grant{}).
			Where("resource_id = ? AND grantee_id = ?", folderID, grantee.ID).
			Count(&count).Error; err != nil {
			t.Fatalf("failed counting grants: %v", err)
		}
		if count != 1 {
			t.Errorf("expected a single grant row, got %d", count)
		}
	})

	t.Run("rejects past expiry", func(t *testing.T) {
		body := map[string]any{
			"resourceID":   folderID,
			"resourceType": "folder",
			"granteeID":    grantee.ID.String(),
			"accessLevel":  "view",
			"expiresAt":    time.Now().Add(-time.Hour).Format(time.RFC3339),
		}
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/permissions", body, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("lists grants with grantee details", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet,
			"/api/permissions?resourceID="+folderID+"&resourceType=folder", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)

		grants := dataList(t, decodeJSONMap(t, resp))
		if len(grants) != 1 {
			t.Fatalf("expected 1 grant, got %d", len(grants))
		}
		first, _ := grants[0].(map[string]any)
		granteeInfo, _ := first["grantee"].(map[string]any)
		if granteeInfo["email"] != "perm-grantee@example.com" {
			t.Errorf("expected grantee preloaded, got %v", first["grantee"])
		}
	})

	t.Run("non-admin cannot list grants", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet,
			"/api/permissions?resourceID="+folderID+"&resourceType=folder", nil, authHeaders(granteeToken))
		assertStatus(t, resp, http.StatusForbidden)
	})

	t.Run("revoke cuts access immediately", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet, "/api/folders/"+folderID, nil, authHeaders(granteeToken))
		assertStatus(t, resp, http.StatusOK)

		body := map[string]any{
			"resourceID":   folderID,
			"resourceType": "folder",
			"granteeID":    grantee.ID.String(),
		}
		resp = performJSONRequest(t, env.app, fiber.MethodDelete, "/api/permissions", body, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performRequest(t, env.app, fiber.MethodGet, "/api/folders/"+folderID, nil, authHeaders(granteeToken))
		assertStatus(t, resp, http.StatusForbidden)
	})

	t.Run("revoking a missing grant is not found", func(t *testing.T) {
		body := map[string]any{
			"resourceID":   folderID,
			"resourceType": "folder",
			"granteeID":    grantee.ID.String(),
		}
		resp := performJSONRequest(t, env.app, fiber.MethodDelete, "/api/permissions", body, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusNotFound)
	})
}

func TestPermissionsAPI_CheckAccess(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "check-owner@example.com", "password123", models.UserRoleUser)
	grantee, granteeToken := createTestUser(t, env.db, "check-grantee@example.com", "password123", models.UserRoleUser)

	folder := createFolderViaAPI(t, env, ownerToken, "Checked Bay", nil)
	folderID := folderIDOf(t, folder)

	check := func(t *testing.T, token, level string) bool {
		t.Helper()
		resp := performRequest(t, env.app, fiber.MethodGet,
			"/api/permissions/check?resourceID="+folderID+"&resourceType=folder&level="+level, nil, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		data := dataMap(t, decodeJSONMap(t, resp))
		allowed, _ := data["allowed"].(bool)
		return allowed
	}

	t.Run("owner is allowed everything", func(t *testing.T) {
		for _, level := range []string{"view", "edit", "admin"} {
			if !check(t, ownerToken, level) {
				t.Errorf("expected owner allowed at %s", level)
			}
		}
	})

	t.Run("stranger is denied with a 200", func(t *testing.T) {
		if check(t, granteeToken, "view") {
			t.Error("expected stranger denied")
		}
	})

	t.Run("grant level is monotonic", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/permissions", map[string]any{
			"resourceID":   folderID,
			"resourceType": "folder",
			"granteeID":    grantee.ID.String(),
			"accessLevel":  "edit",
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)

		if !check(t, granteeToken, "view") {
			t.Error("expected edit grant to satisfy view")
		}
		if !check(t, granteeToken, "edit") {
			t.Error("expected edit grant to satisfy edit")
		}
		if check(t, granteeToken, "admin") {
			t.Error("expected edit grant to fall short of admin")
		}
	})

	t.Run("rejects an unknown level", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet,
			"/api/permissions/check?resourceID="+folderID+"&resourceType=folder&level=owner", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})
}
