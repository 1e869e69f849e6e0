package shared

const (
	UserID    = "user_id"
	UserRole  = "user_role"
	UserEmail = "user_email"
	SessionID = "session_id"

	// Middleware service ids, looked up by the HTTP service without importing the middleware package.
	SecurityMiddlewareSvc = "security_middleware"
	AuthMiddlewareSvc     = "auth"

	RoleAdmin  = "admin"
	RoleMentor = "mentor"

	// Key prefixes owned by the security services.
	RateLimitKeyPrefix = "rate_limit:"
	BlockedKeyPrefix   = "blocked:"
	RequestsKeyPrefix  = "requests:"
	IPIdentifierPrefix = "ip:"
)

// Audit categories
const (
	CategoryAuthentication   = "authentication"
	CategoryAuthorization    = "authorization"
	CategoryDataAccess       = "data_access"
	CategoryDataModification = "data_modification"
	CategorySystem           = "system"
	CategorySecurity         = "security"
)

// Audit severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)
