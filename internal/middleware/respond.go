package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/3O98/pgp-based-communication-app/internal/models"
)

func WriteJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
