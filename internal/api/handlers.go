package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/scorer"
)

const maxBodyBytes = 1 << 20

type handlerFunc func(http.ResponseWriter, *http.Request) error

// errorBody is the error payload of every endpoint.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (rt *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			writeError(w, err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: model.DefaultUserMessage}
	if e, ok := model.AsError(err); ok {
		status = e.HTTPStatus()
		body.Error = model.UserMessage(err)
		body.Details = e.Details
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// decode reads a JSON body into dst and validates its struct tags.
func (rt *Router) decode(w http.ResponseWriter, req *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return model.ValidationError("Corps de requête invalide.", err.Error())
	}
	if err := rt.validate.Struct(dst); err != nil {
		return model.ValidationError("Paramètres de requête invalides.", describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fe.Namespace()+": "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func (rt *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := map[string]any{"status": "ok"}
	status := http.StatusOK
	if rt.analyses != nil {
		if err := rt.analyses.Ping(req.Context()); err != nil {
			resp["status"] = "degraded"
			resp["store"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp["store"] = "ok"
		}
	}
	if rt.breakers != nil {
		resp["breakers"] = rt.breakers.States()
	}
	writeJSON(w, status, resp)
}

type analyzeRequest struct {
	AnalysisID string `json:"analysisId" validate:"required"`
}

// POST /analyze
// Body: {"analysisId": "<id>"}
// Runs the analysis synchronously and returns the terminal record.
func (rt *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body analyzeRequest
	if err := rt.decode(w, req, &body); err != nil {
		return err
	}

	res, err := rt.analyzer.Run(req.Context(), strings.TrimSpace(body.AnalysisID))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res.Analysis)
	return nil
}

// GET /analyses/{id}
func (rt *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) error {
	if rt.analyses == nil {
		return model.NewError(model.KindNotFound, "Ressource introuvable.", nil)
	}
	a, err := rt.analyses.GetAnalysis(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		if model.IsNotFound(err) {
			return err
		}
		return model.PersistenceError(err)
	}
	writeJSON(w, http.StatusOK, a)
	return nil
}

type marketPriceRequest struct {
	CodeINSEE string `json:"code_insee" validate:"required,len=5,alphanum"`
	TypeBien  string `json:"type_bien" validate:"omitempty,oneof=maison appartement"`
}

// POST /market-price
// Body: {"code_insee": "69383", "type_bien": "maison"}
func (rt *Router) handleMarketPrice(w http.ResponseWriter, req *http.Request) error {
	var body marketPriceRequest
	if err := rt.decode(w, req, &body); err != nil {
		return err
	}

	site, err := rt.resolver.SiteContext(req.Context(), strings.ToUpper(body.CodeINSEE), body.TypeBien)
	if err != nil {
		return model.UpstreamError("Les prix immobiliers de la commune sont indisponibles.", err)
	}
	writeJSON(w, http.StatusOK, site)
	return nil
}

type strategicRequest struct {
	Items []model.StrategicItem `json:"items" validate:"required,min=1,dive"`
}

// POST /strategic-score
// Body: {"items": [{"job_type": "isolation", "amount_ht": 8000}]}
func (rt *Router) handleStrategicScore(w http.ResponseWriter, req *http.Request) error {
	var body strategicRequest
	if err := rt.decode(w, req, &body); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, scorer.ComputeStrategic(body.Items, scorer.DefaultMatrix))
	return nil
}

// GET /zones/{postalCode}
func (rt *Router) handleZone(w http.ResponseWriter, req *http.Request) error {
	postal := chi.URLParam(req, "postalCode")
	info := rt.resolver.Zones().Lookup(postal)
	writeJSON(w, http.StatusOK, struct {
		PostalCode string `json:"postal_code"`
		Label      string `json:"label"`
		model.ZoneInfo
	}{PostalCode: postal, Label: info.Zone.Label(), ZoneInfo: info})
	return nil
}

// GET /job-types
func (rt *Router) handleJobTypes(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string][]string{"job_types": rt.resolver.JobTypes()})
	return nil
}
