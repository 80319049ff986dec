package handlers

import (
	"net/http"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/logger"
)

var kindStatus = map[apperror.Kind]int{
	apperror.KindNotFound:    http.StatusNotFound,
	apperror.KindValidation:  http.StatusBadRequest,
	apperror.KindConflict:    http.StatusConflict,
	apperror.KindUnavailable: http.StatusUnprocessableEntity,
}

// writeServiceError отдаёт клиенту сообщение типизированной ошибки,
// а все остальное логирует и скрывает за internalMessage.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, internalMessage string) {
	if kind, ok := apperror.KindOf(err); ok {
		if status, known := kindStatus[kind]; known {
			writeErrorResponse(w, status, err.Error())
			return
		}
	}

	if log != nil {
		log.WithError(err).Error(internalMessage)
	}
	writeErrorResponse(w, http.StatusInternalServerError, internalMessage)
}
