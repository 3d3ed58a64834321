package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern invalidates a pattern and logs instead of failing
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete deletes keys and logs instead of failing
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// SafeSet stores a value and logs instead of failing
func SafeSet(ctx context.Context, helper *CacheHelper, key string, value interface{}, config CacheConfig) {
	if err := helper.Set(ctx, key, value, config.TTL); err != nil {
		slog.ErrorContext(ctx, "Failed to set cache key",
			"error", err,
			"key", key)
	}
}

// InvalidateBankCache drops the cached configuration of one bank
func InvalidateBankCache(ctx context.Context, cm *CacheManager, bankID uint) {
	SafeDelete(ctx, cm.Bank, BankKey(bankID))
	SafeInvalidatePattern(ctx, cm.Bank, fmt.Sprintf("id:%d:*", bankID))
}

func BankKey(bankID uint) string {
	return fmt.Sprintf("id:%d", bankID)
}

func ResultKey(sessionID uint) string {
	return fmt.Sprintf("session:%d", sessionID)
}

func CertificateNumberKey(number string) string {
	return fmt.Sprintf("number:%s", number)
}
