package httpserver

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrForbiddenSource  = "forbidden source"
	ErrInvalidSignature = "invalid signature"
)
