package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func parseConnectorID(r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "connectorId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
