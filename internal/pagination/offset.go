package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// Clamp applies the default and maximum limit and floors the offset at zero.
func Clamp(limit, offset, def, max int) Page {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

// FromQuery reads ?limit and ?offset. Unparseable values fall back to the defaults.
func FromQuery(c *gin.Context, def, max int) Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return Clamp(limit, offset, def, max)
}
