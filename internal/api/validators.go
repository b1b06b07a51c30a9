package api

import (
	"net/http"
	"strconv"
	"strings"
)

var validCategories = map[string]bool{
	"kills": true, "deaths": true, "currency": true, "kd_ratio": true,
}

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// validateCategory checks if a leaderboard category is valid
func validateCategory(category string) bool {
	return validCategories[category]
}

// validateChannel accepts empty (disabled) or a single token without whitespace
func validateChannel(channel string) bool {
	return !strings.ContainsAny(channel, " \t\r\n")
}
