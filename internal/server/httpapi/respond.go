package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"sealrelay/pkg/apperr"
	"sealrelay/pkg/logger"
)

var log = logger.New("httpapi")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Errorf("encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.CodeOf(err))

	msg := "internal error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	if status >= 500 {
		log.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
