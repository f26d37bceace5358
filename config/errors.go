package config

// ValidationError indicates an invalid value in the configuration file.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config: " + e.Field + ": " + e.Message
	}
	return "config: " + e.Message
}
