package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vasiliy-maslov/fulfillment-service/internal/fulfillment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/handler"
)

func NewRouter(svc fulfillment.Service) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	h := handler.NewFulfillmentHandler(svc)

	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.GetOrder)
		r.Get("/history", h.GetHistory)
		r.Post("/transition", h.ApplyOrderTransition)
		r.Post("/payment-transition", h.ApplyPaymentTransition)
	})

	return r
}
