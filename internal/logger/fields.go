package logger

import "go.uber.org/zap"

func TenantID(v string) zap.Field {
	return zap.String("tenant_id", v)
}

func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

func RecipeUserID(v string) zap.Field {
	return zap.String("recipe_user_id", v)
}

func PrimaryUserID(v string) zap.Field {
	return zap.String("primary_user_id", v)
}

func FactorID(v string) zap.Field {
	return zap.String("factor_id", v)
}

func Status(v string) zap.Field {
	return zap.String("status", v)
}

// Attempt is the zero-based iteration of a retry loop.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

func ErrorCode(v string) zap.Field {
	return zap.String("error_code", v)
}

func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}
