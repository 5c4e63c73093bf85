package utils

import (
	"os"
	"strings"
)

// ParseWithFallback reads envName, using fallback when it is unset or blank.
func ParseWithFallback(envName string, fallback string) string {
	result := strings.TrimSpace(os.Getenv(envName))
	if result == "" {
		result = fallback
	}

	return result
}
