package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/devshare/control-server-go/internal/errors"
	"github.com/devshare/control-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads the request body into dst, rejecting unknown payloads
// with a BadRequest instead of a 500.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.BadRequest("Invalid JSON body").WithCause(err)
	}
	return nil
}
