package workflow

// ValidationError reports a structural problem with a compiled workflow
// definition (missing start node, dangling transition target, unknown
// discriminator). Mirrors the teacher's EngineError{Message,Code} shape.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
