package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/fulfillment-service/internal/fulfillment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
)

// FulfillmentHandler handles HTTP requests for order and payment state
// transitions.
type FulfillmentHandler struct {
	svc fulfillment.Service
}

func NewFulfillmentHandler(svc fulfillment.Service) *FulfillmentHandler {
	return &FulfillmentHandler{svc: svc}
}

type paymentTransitionRequest struct {
	NewState string `json:"new_state"`
	Actor    string `json:"actor"`
	Reason   string `json:"reason,omitempty"`
}

type orderTransitionRequest struct {
	NewState string `json:"new_state"`
	Actor    string `json:"actor"`
}

// ApplyPaymentTransition moves an order's payment to a new state and
// reconciles stock and the order state with it.
func (h *FulfillmentHandler) ApplyPaymentTransition(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req paymentTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		respondWithError(w, http.StatusBadRequest, "actor is required")
		return
	}

	// Raw state strings are parsed exactly once, here at the boundary.
	target, err := state.ParsePaymentState(req.NewState)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.svc.ApplyPaymentTransition(r.Context(), orderID, target, req.Actor, req.Reason)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("handler: failed to apply payment transition")
			respondWithError(w, code, "failed to apply payment transition")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, outcome)
}

// ApplyOrderTransition moves an order to a new state with no payment
// involvement.
func (h *FulfillmentHandler) ApplyOrderTransition(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req orderTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		respondWithError(w, http.StatusBadRequest, "actor is required")
		return
	}

	target, err := state.ParseOrderState(req.NewState)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.svc.ApplyOrderTransition(r.Context(), orderID, target, req.Actor)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("handler: failed to apply order transition")
			respondWithError(w, code, "failed to apply order transition")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, outcome)
}

// GetOrder returns the order, its payment and the consistency verdict
// for the current state pair.
func (h *FulfillmentHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	view, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("handler: failed to get order")
			respondWithError(w, code, "failed to get order")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// GetHistory returns the audit trail for the order and its payment.
func (h *FulfillmentHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	records, err := h.svc.GetHistory(r.Context(), orderID)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("handler: failed to get transition history")
			respondWithError(w, code, "failed to get transition history")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, records)
}

func orderIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return uuid.Nil, false
	}

	id, err := uuid.FromString(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "id must be a valid UUID")
		return uuid.Nil, false
	}

	return id, true
}
