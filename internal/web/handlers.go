package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/assadlabs/ansflow/internal/logging"
	"github.com/assadlabs/ansflow/internal/schema"
	"github.com/assadlabs/ansflow/internal/store"
)

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error with the request ID and maps it
// to a status and a sanitized client message. Timeouts waiting on the
// ingestion run lock surface as 504 so clients know to retry.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	msg := "internal server error"

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
		msg = "operator not found"
	case errors.Is(err, store.ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "query_timeout"
		msg = "query timed out, try again shortly"
	}

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
	)

	s.writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type operatorJSON struct {
	RegistroANS string `json:"registro_ans"`
	CNPJ        string `json:"cnpj"`
	LegalName   string `json:"legal_name"`
	Modality    string `json:"modality,omitempty"`
	UF          string `json:"uf,omitempty"`
}

func toOperatorJSON(op schema.Operator) operatorJSON {
	return operatorJSON{
		RegistroANS: op.RegistroANS,
		CNPJ:        op.CNPJ,
		LegalName:   op.LegalName,
		Modality:    op.Modality,
		UF:          op.UF,
	}
}

type operatorPageJSON struct {
	Operators  []operatorJSON `json:"operators"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int64          `json:"total_pages"`
}

func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1)
	pageSize := parseIntParam(r, "page_size", 10)
	search := r.URL.Query().Get("search")

	result, err := s.store.ListOperators(r.Context(), page, pageSize, search)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := operatorPageJSON{
		Operators:  make([]operatorJSON, 0, len(result.Operators)),
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages(),
	}
	for _, op := range result.Operators {
		resp.Operators = append(resp.Operators, toOperatorJSON(op))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOperator(w http.ResponseWriter, r *http.Request) {
	op, err := s.store.GetOperator(r.Context(), chi.URLParam(r, "registroANS"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOperatorJSON(*op))
}

type expenseJSON struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Quarter     string          `json:"quarter"`
	Year        int             `json:"year"`
	Description string          `json:"description,omitempty"`
}

type expenseHistoryJSON struct {
	RegistroANS string        `json:"registro_ans"`
	Expenses    []expenseJSON `json:"expenses"`
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	registroANS := chi.URLParam(r, "registroANS")

	// The operator must exist; a missing one is a 404, not an empty list.
	op, err := s.store.GetOperator(r.Context(), registroANS)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	entries, err := s.store.ListExpenses(r.Context(), registroANS)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := expenseHistoryJSON{RegistroANS: op.RegistroANS, Expenses: make([]expenseJSON, 0, len(entries))}
	for _, e := range entries {
		resp.Expenses = append(resp.Expenses, expenseJSON{
			ID:          e.ID,
			Amount:      e.Amount,
			Quarter:     e.Quarter,
			Year:        e.Year,
			Description: e.Description,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type growthJSON struct {
	RegistroANS string          `json:"registro_ans"`
	LegalName   string          `json:"legal_name"`
	FirstTotal  decimal.Decimal `json:"first_total"`
	LastTotal   decimal.Decimal `json:"last_total"`
	GrowthPct   decimal.Decimal `json:"growth_pct"`
}

func (s *Server) handleTopGrowth(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.TopGrowth(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := make([]growthJSON, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, growthJSON{
			RegistroANS: e.RegistroANS,
			LegalName:   e.LegalName,
			FirstTotal:  e.FirstTotal,
			LastTotal:   e.LastTotal,
			GrowthPct:   e.GrowthPct,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type stateJSON struct {
	UF                 string          `json:"uf"`
	Total              decimal.Decimal `json:"total"`
	Operators          int64           `json:"operators"`
	AveragePerOperator decimal.Decimal `json:"average_per_operator"`
}

func (s *Server) handleExpensesByState(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ExpensesByState(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := make([]stateJSON, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, stateJSON{
			UF:                 e.UF,
			Total:              e.Total,
			Operators:          e.Operators,
			AveragePerOperator: e.AveragePerOperator,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type aboveAverageJSON struct {
	RegistroANS   string `json:"registro_ans"`
	LegalName     string `json:"legal_name"`
	QuartersAbove int64  `json:"quarters_above"`
}

func (s *Server) handleAboveAverage(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.AboveAverageQuarters(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := make([]aboveAverageJSON, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, aboveAverageJSON{
			RegistroANS:   e.RegistroANS,
			LegalName:     e.LegalName,
			QuartersAbove: e.QuartersAbove,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
