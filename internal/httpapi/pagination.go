package httpapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

// pageParams parses page/page_size query parameters per spec §4.8,
// clamping page_size to [1, 1000] and defaulting page to 1.
func pageParams(c echo.Context) (page, pageSize int) {
	page = 1
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		page = v
	}
	pageSize = defaultPageSize
	if v, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && v > 0 {
		pageSize = v
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// limitParam parses a standalone `limit` query parameter, per spec §6,
// clamping to [1, maxPageSize] and defaulting to def when absent or
// invalid.
func limitParam(c echo.Context, def int) int {
	limit := def
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}
