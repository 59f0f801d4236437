package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level singleton. Custom registrations go in init(),
// before the first Struct call.
var validate = validator.New()

// decodeJSON unmarshals the request body into dst and checks its validate
// tags. On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return false
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		writeError(w, http.StatusBadRequest, strings.Join(msgs, "; "))
		return false
	}
	return true
}
