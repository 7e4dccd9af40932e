package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	derrors "satsync/pkg/domain-errors"
	"satsync/pkg/platform/sentinel"
)

var statusByCode = map[derrors.Code]int{
	derrors.CodeBadRequest:        http.StatusBadRequest,
	derrors.CodeUnauthorized:      http.StatusUnauthorized,
	derrors.CodeNotFound:          http.StatusNotFound,
	derrors.CodeConflict:          http.StatusConflict,
	derrors.CodeAlreadyRunning:    http.StatusConflict,
	derrors.CodeCredentialMissing: http.StatusNotFound,
	derrors.CodeCredentialInvalid: http.StatusForbidden,
	derrors.CodeCredentialExpired: http.StatusForbidden,
	derrors.CodeRateLimited:       http.StatusTooManyRequests,
	derrors.CodeRangeTooDense:     http.StatusUnprocessableEntity,
	derrors.CodeProtocol:          http.StatusBadGateway,
	derrors.CodeTransient:         http.StatusBadGateway,
}

// WriteError translates domain and sentinel errors into the JSON error
// envelope. Internal details never leak: unknown errors become a bare 500.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := derrors.CodeInternal
	message := "internal error"

	var de *derrors.Error
	switch {
	case errors.As(err, &de):
		if s, ok := statusByCode[de.Code]; ok {
			status = s
			code = de.Code
			message = de.Message
		}
	case errors.Is(err, sentinel.ErrNotFound):
		status, code, message = http.StatusNotFound, derrors.CodeNotFound, "not found"
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrInvalidState):
		status, code, message = http.StatusConflict, derrors.CodeConflict, "conflict"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(code),
		"message": message,
	})
}
