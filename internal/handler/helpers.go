package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/fulfillment-service/internal/fulfillment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/fulfillment-service/internal/payment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
	"github.com/vasiliy-maslov/fulfillment-service/internal/stock"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	var transitionErr *state.TransitionError
	var unknownStateErr *state.UnknownStateError
	var insufficientErr *stock.InsufficientStockError

	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.As(err, &transitionErr), errors.As(err, &unknownStateErr):
		return http.StatusConflict
	case errors.As(err, &insufficientErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fulfillment.ErrRestoreFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
