// internal/middleware/i18n.go
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/downpricer/marketplace-backend/internal/i18n"
)

// I18nMiddleware resolves Accept-Language to a supported locale. A "lang"
// query parameter takes precedence.
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Accept-Language")
		if q := c.Query("lang"); q != "" {
			header = q
		}
		c.Set("lang", i18n.Match(header))
		c.Next()
	}
}
