package steps

import "github.com/flowline/flowline/pkg/models"

// Config accessors. Step configuration comes out of a JSONB column, so
// numbers arrive as float64 and everything needs a defaulted lookup.

func configString(cfg models.JSONMap, key, def string) string {
	if cfg == nil {
		return def
	}
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func configInt(cfg models.JSONMap, key string, def int) int {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func configFloat(cfg models.JSONMap, key string) (float64, bool) {
	if cfg == nil {
		return 0, false
	}
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func configBool(cfg models.JSONMap, key string) bool {
	if cfg == nil {
		return false
	}
	v, _ := cfg[key].(bool)
	return v
}

func configMap(cfg models.JSONMap, key string) map[string]interface{} {
	if cfg == nil {
		return nil
	}
	if v, ok := cfg[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func configList(cfg models.JSONMap, key string) []interface{} {
	if cfg == nil {
		return nil
	}
	if v, ok := cfg[key].([]interface{}); ok {
		return v
	}
	return nil
}
