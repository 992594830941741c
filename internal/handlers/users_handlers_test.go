package handlers

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stockroom/backend/internal/models"
)

func TestUsersAPI_AdminRoutes(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "admin@example.com", "password123", models.UserRoleAdmin)
	regular, regularToken := createTestUser(t, env.db, "regular@example.com", "password123", models.UserRoleUser)

	t.Run("non-admin is forbidden", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet, "/api/users", nil, authHeaders(regularToken))
		assertStatus(t, resp, http.StatusForbidden)
	})

	t.Run("admin lists users", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet, "/api/users", nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		users := dataList(t, decodeJSONMap(t, resp))
		if len(users) != 2 {
			t.Errorf("expected 2 users, got %d", len(users))
		}
	})

	t.Run("admin filters by search", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet, "/api/users?search=regular", nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		users := dataList(t, decodeJSONMap(t, resp))
		if len(users) != 1 {
			t.Fatalf("expected 1 match, got %d", len(users))
		}
	})

	t.Run("admin updates a role", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPut, "/api/users/"+regular.ID.String(),
			map[string]any{"role": "admin"}, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		data := dataMap(t, decodeJSONMap(t, resp))
		if data["role"] != "admin" {
			t.Errorf("expected role admin, got %v", data["role"])
		}
	})

	t.Run("admin cannot delete their own account", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodDelete, "/api/users/"+admin.ID.String(), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("admin deletes another user along with their grants", func(t *testing.T) {
		folder := createFolderViaAPI(t, env, adminToken, "Admin Bay", nil)
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/permissions", map[string]any{
			"resourceID":   folderIDOf(t, folder),
			"resourceType": "folder",
			"granteeID":    regular.ID.String(),
			"accessLevel":  "view",
		}, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusCreated)

		resp = performRequest(t, env.app, fiber.MethodDelete, "/api/users/"+regular.ID.String(), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		var remaining int64
		if err := env.db.Model(&models.Grant{}).Where("grantee_id = ?", regular.ID).Count(&remaining).Error; err != nil {
			t.Fatalf("failed counting grants: %v", err)
		}
		if remaining != 0 {
			t.Errorf("expected grants cleaned up, found %d", remaining)
		}
	})

	t.Run("deleting a missing user is not found", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodDelete,
			"/api/users/"+regular.ID.String(), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusNotFound)
	})
}

func TestUsersAPI_Search(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "seeker@example.com", "password123", models.UserRoleUser)
	createTestUser(t, env.db, "target@example.com", "password123", models.UserRoleUser)

	t.Run("any authenticated user can search", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet, "/api/users/search?search=target", nil, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)

		users := dataList(t, decodeJSONMap(t, resp))
		if len(users) != 1 {
			t.Fatalf("expected 1 match, got %d", len(users))
		}
		first, _ := users[0].(map[string]any)
		if first["email"] != "target@example.com" {
			t.Errorf("expected target match, got %v", first["email"])
		}
	})

	t.Run("requires auth", func(t *testing.T) {
		resp := performRequest(t, env.app, fiber.MethodGet, "/api/users/search?search=target", nil, nil)
		assertStatus(t, resp, http.StatusUnauthorized)
	})
}
