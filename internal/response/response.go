package response

import (
	"encoding/json"
	"net/http"

	"github.com/pulse/pulse/internal/apperrors"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type MessageResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// Error renders err as {"error":{...}}. The underlying cause is only exposed
// when development is set.
func Error(w http.ResponseWriter, err error, development bool) {
	appErr := apperrors.FromError(err)
	detail := ErrorDetail{
		Code:    appErr.Code,
		Message: appErr.Message,
	}
	if development && appErr.Err != nil {
		detail.Detail = appErr.Err.Error()
	}
	JSON(w, appErr.Status, ErrorResponse{Error: detail})
}
