package shared

func PointerTo[T any](v T) *T {
	return &v
}

func StringPtrToString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

// ValidateLimit enforces the pagination safety rule: a limit field
// that is present and zero is rejected outright; an absent limit defers to
// the caller's own default.
func ValidateLimit(limit *int) *JSONRPCError {
	if limit != nil && *limit == 0 {
		return &JSONRPCError{Code: JSONRPCErrorInvalidParams, Message: "limit must be greater than zero"}
	}
	return nil
}
