package broker

// Parameter accessors shared by the command handlers. Missing or mistyped
// values resolve to zero values; handlers validate required parameters
// explicitly.

// ParamString extracts a string parameter. Returns "" if missing/not string.
func ParamString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	val, ok := params[key]
	if !ok {
		return ""
	}
	str, ok := val.(string)
	if !ok {
		return ""
	}
	return str
}

// ParamFloat extracts a numeric parameter. JSON numbers decode as float64;
// integer values are widened.
func ParamFloat(params map[string]any, key string) float64 {
	if params == nil {
		return 0
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// ParamInt extracts an integer parameter, truncating JSON floats.
func ParamInt(params map[string]any, key string) int {
	return int(ParamFloat(params, key))
}

// ParamBool extracts a boolean parameter. Returns false if missing/not bool.
func ParamBool(params map[string]any, key string) bool {
	if params == nil {
		return false
	}
	b, ok := params[key].(bool)
	return ok && b
}

// ParamStringSlice extracts a list of strings, accepting both []string and
// the []any produced by JSON decoding. Non-string elements are dropped.
func ParamStringSlice(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ParamMap extracts a nested object parameter.
func ParamMap(params map[string]any, key string) map[string]any {
	if params == nil {
		return nil
	}
	m, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}
	return m
}
