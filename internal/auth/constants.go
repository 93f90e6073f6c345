package auth

// Claim names carried by gateway tokens.
const (
	ClaimUserID    = "userId"
	ClaimProfileID = "profileId"
	ClaimRoles     = "roles"
	ClaimEmail     = "email"
	ClaimTokenType = "tokenType"
	ClaimDeviceID  = "deviceId"
)

// Token types.
const (
	TokenTypeAccess  = "ACCESS"
	TokenTypeRefresh = "REFRESH"
)

// Well known roles.
const (
	RoleUser            = "ROLE_USER"
	RoleAdmin           = "ROLE_ADMIN"
	RoleContentManager  = "ROLE_CONTENT_MANAGER"
	RoleAnalyticsViewer = "ROLE_ANALYTICS_VIEWER"
)

// DefaultRevocationPrefix namespaces revocation keys in the shared store.
const DefaultRevocationPrefix = "jwt:blacklist:"

// revokedValue is stored under each revocation key.
const revokedValue = "revoked"
