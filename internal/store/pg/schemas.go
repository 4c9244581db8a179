package pg

import "gatehouse.dev/internal/repository"

var usersSchema = repository.Schema{
	Table: "users",
	Columns: []string{
		"id", "email", "password", "name", "phone", "is_active", "email_verified",
		"email_verified_at", "last_login_at", "created_at", "updated_at", "deleted_at",
	},
	Writable: []string{
		"email", "password", "name", "phone", "is_active", "email_verified",
		"email_verified_at", "last_login_at",
	},
	SearchColumns: []string{"name", "email"},
	SortColumns:   []string{"created_at", "name", "email", "last_login_at"},
	SoftDelete:    true,
	Timestamps:    true,
}

var rolesSchema = repository.Schema{
	Table:        "roles",
	Columns:      []string{"id", "name", "slug", "description", "created_at", "updated_at"},
	Writable:     []string{"name", "slug", "description"},
	SortColumns:  []string{"name", "slug", "created_at"},
	DefaultSort:  "slug",
	DefaultOrder: "ASC",
	Timestamps:   true,
}

var permissionsSchema = repository.Schema{
	Table:        "permissions",
	Columns:      []string{"id", "name", "slug", "resource", "action", "description", "created_at", "updated_at"},
	Writable:     []string{"name", "slug", "resource", "action", "description"},
	SortColumns:  []string{"slug", "resource", "created_at"},
	DefaultSort:  "slug",
	DefaultOrder: "ASC",
	Timestamps:   true,
}

var apiKeysSchema = repository.Schema{
	Table: "api_keys",
	Columns: []string{
		"id", "user_id", "name", "key", "is_active", "expires_at", "last_used_at",
		"created_at", "updated_at", "deleted_at",
	},
	Writable:    []string{"user_id", "name", "key", "is_active", "expires_at", "last_used_at"},
	SortColumns: []string{"created_at", "name"},
	SoftDelete:  true,
	Timestamps:  true,
}

var productsSchema = repository.Schema{
	Table:         "products",
	Columns:       []string{"id", "name", "description", "created_at", "updated_at", "deleted_at"},
	Writable:      []string{"name", "description"},
	SearchColumns: []string{"name", "description"},
	SortColumns:   []string{"created_at", "name"},
	SoftDelete:    true,
	Timestamps:    true,
}
