package httpapi

import (
	"net/http"

	"gatehouse.dev/internal/auth"
)

type assignRoleRequest struct {
	Role string `json:"role"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	isActive, err := parseOptionalBool(r.URL.Query().Get("is_active"), "is_active")
	if err != nil {
		a.respond(w, r, err)
		return
	}
	verified, err := parseOptionalBool(r.URL.Query().Get("email_verified"), "email_verified")
	if err != nil {
		a.respond(w, r, err)
		return
	}
	page, err := a.admin.ListUsers(r.Context(), auth.UserQuery{
		Page:          p.page,
		Limit:         p.limit,
		Search:        p.search,
		SortBy:        p.sortBy,
		SortOrder:     p.sortOrder,
		IsActive:      isActive,
		EmailVerified: verified,
	})
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.admin.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.UserUpdate
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	userID := r.PathValue("id")
	user, err := a.admin.UpdateUser(r.Context(), userID, req)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.update", map[string]any{"target_user_id": userID})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if err := a.admin.DeleteUser(r.Context(), userID); err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.delete", map[string]any{"target_user_id": userID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	userID := r.PathValue("id")
	if err := a.admin.AssignRole(r.Context(), userID, req.Role); err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.assign_role", map[string]any{"target_user_id": userID, "role": req.Role})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, role := r.PathValue("id"), r.PathValue("slug")
	if err := a.admin.RevokeRole(r.Context(), userID, role); err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.revoke_role", map[string]any{"target_user_id": userID, "role": role})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.admin.ListRoles(r.Context())
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auth.Role]{Data: roles})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateRoleInput
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	role, err := a.admin.CreateRole(r.Context(), req)
	if err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.create", map[string]any{"role_id": role.ID, "slug": role.Slug})
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respond(w, r, err)
		return
	}
	roleID := r.PathValue("id")
	if err := a.admin.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		a.respond(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.set_permissions", map[string]any{"role_id": roleID, "permissions": req.Permissions})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.admin.ListPermissions(r.Context())
	if err != nil {
		a.respond(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auth.Permission]{Data: perms})
}
