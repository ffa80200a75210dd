package v1

import (
	"github.com/go-chi/chi/v5"
)

const OperatorHeader = "X-Operator-ID"

func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.RequireOperator)
		r.Post("/commands/{command}", h.ExecuteCommand)
		r.Route("/system", func(r chi.Router) {
			r.Get("/state", h.GetState)
			r.Get("/logs", h.GetLogs)
		})
	})
	return r
}
