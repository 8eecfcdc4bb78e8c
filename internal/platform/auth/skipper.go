package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: probes, scraping, and the public
// contact relay.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
	"/mail":      true,
}

func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
