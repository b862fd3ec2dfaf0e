package gateway

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v with status code. Encoding errors are dropped: the
// header is already on the wire by then.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
