package usercontext

// Locals keys shared by the auth middleware and controllers.
const (
	LocalsKey   = "USER_CONTEXT"
	KeyClaims   = "jwt_claims"
	KeyUserID   = "user_id"
	KeyIsAdmin  = "isAdmin"
	RoleAdmin   = "admin"
	RoleDefault = "user"
)
