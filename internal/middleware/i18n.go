// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// An explicit ?lang= wins over the header
		lang := c.Query("lang")
		if lang == "" {
			lang = c.GetHeader("Accept-Language")
		}

		c.Set("lang", normalizeLang(lang))
		c.Next()
	}
}

// normalizeLang handles values like "zh-TW,zh;q=0.9,en;q=0.8".
func normalizeLang(lang string) string {
	if lang == "" {
		return "en"
	}

	first := strings.TrimSpace(strings.Split(strings.Split(lang, ",")[0], ";")[0])
	switch first {
	case "zh-TW", "zh-Hant", "zh_TW", "zh-HK":
		return "zh_TW"
	default:
		return "en"
	}
}
