package model

// Roles carried in the "role" claim of operator tokens.
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)
