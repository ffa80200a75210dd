package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"blockips/internal/app"
	"blockips/internal/logbuffer"
	"blockips/internal/protection"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Core interface {
	Authorize(operatorID int64) error
	Execute(ctx context.Context, operatorID int64, kind app.CommandKind) (*app.CommandResult, error)
	Probe(ctx context.Context) (*protection.Probe, error)
	Logs() *logbuffer.RingBuffer
}

type Handler struct {
	app Core
}

func NewHandler(a Core) *Handler {
	return &Handler{app: a}
}

func operatorID(r *http.Request) (int64, error) {
	v := r.Header.Get(OperatorHeader)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// RequireOperator rejects requests whose operator header does not match the
// configured operator.
func (h *Handler) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := operatorID(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid operator id")
			return
		}
		if err := h.app.Authorize(id); err != nil {
			log.Warn().Int64("operator", id).Str("path", r.URL.Path).Msg("rejected request from unknown operator")
			WriteError(w, http.StatusForbidden, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id, err := operatorID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid operator id")
		return
	}
	kind, err := app.ParseCommandKind(chi.URLParam(r, "command"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	res, err := h.app.Execute(r.Context(), id, kind)
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, app.ErrUnknownCommand):
		WriteError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("command", string(kind)).Msg("command dispatch failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJson(w, http.StatusOK, ToCommandRes(res))
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Probe(r.Context())
	if p == nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("failed to probe state: %v", err))
		return
	}
	res := ToStateRes(p)
	if err != nil {
		res.Error = err.Error()
	}
	WriteJson(w, http.StatusOK, res)
}

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	level := r.URL.Query().Get("level")
	WriteJson(w, http.StatusOK, ToLogsRes(h.app.Logs().GetFiltered(level, limit)))
}
