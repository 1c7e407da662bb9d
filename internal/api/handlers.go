package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/service"
)

// CreateObservationRequest is the body of POST /api/v1/observations.
type CreateObservationRequest struct {
	UserID       uint     `json:"user_id"`
	TaxonID      uint     `json:"taxon_id"`
	SpeciesGuess string   `json:"species_guess"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Body         string   `json:"body"`
	Captive      string   `json:"captive_flag"`
}

// CreateIdentificationRequest is the body of POST /api/v1/identifications.
type CreateIdentificationRequest struct {
	ObservationID uint   `json:"observation_id"`
	UserID        uint   `json:"user_id"`
	TaxonID       uint   `json:"taxon_id"`
	Body          string `json:"body"`
	Disagreement  bool   `json:"disagreement"`
	Captive       string `json:"captive_flag"`
}

// UpdateIdentificationRequest is the body of PATCH /api/v1/identifications/:id.
// Absent fields keep their stored values.
type UpdateIdentificationRequest struct {
	TaxonID      *uint   `json:"taxon_id"`
	Body         *string `json:"body"`
	Disagreement *bool   `json:"disagreement"`
	Captive      *string `json:"captive_flag"`
}

// EffectView describes one emitted effect.
type EffectView struct {
	Kind effects.Kind `json:"kind"`
	Key  string       `json:"key"`
}

// ObservationResponse wraps an observation with the effects its change produced.
type ObservationResponse struct {
	Observation *observation.Observation `json:"observation"`
	Effects     []EffectView             `json:"effects,omitempty"`
}

// IdentificationResponse wraps an identification with the resulting
// observation state and effects.
type IdentificationResponse struct {
	Identification *observation.Identification `json:"identification"`
	Observation    *observation.Observation    `json:"observation,omitempty"`
	Effects        []EffectView                `json:"effects"`
}

// CuratorPointerResponse is the body of the curator pointer lookup.
type CuratorPointerResponse struct {
	ObservationID    uint  `json:"observation_id"`
	ProjectID        uint  `json:"project_id"`
	IdentificationID *uint `json:"curator_identification_id"`
}

func effectViews(effs []effects.Effect) []EffectView {
	views := make([]EffectView, len(effs))
	for i, e := range effs {
		views[i] = EffectView{Kind: e.Kind(), Key: e.Key()}
	}
	return views
}

// uintParam parses a positive integer path parameter.
func uintParam(c echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(v), nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}

func (s *Server) createObservation(c echo.Context) error {
	var req CreateObservationRequest
	if err := bind(c, &req); err != nil {
		return s.HandleError(c, err, "malformed request body")
	}
	ctx := c.Request().Context()

	obs, effs, err := s.pipeline.CreateObservation(ctx, service.NewObservation{
		UserID:       req.UserID,
		TaxonID:      req.TaxonID,
		SpeciesGuess: req.SpeciesGuess,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Body:         req.Body,
		Captive:      observation.ParseCaptiveFlag(req.Captive),
	})
	if err != nil {
		return s.HandleError(c, err, "failed to create observation")
	}
	return c.JSON(http.StatusCreated, ObservationResponse{Observation: obs, Effects: effectViews(effs)})
}

func (s *Server) getObservation(c echo.Context) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid observation id")
	}
	obs, err := s.pipeline.GetObservation(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "failed to load observation")
	}
	return c.JSON(http.StatusOK, ObservationResponse{Observation: obs})
}

func (s *Server) recomputeObservation(c echo.Context) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid observation id")
	}
	ctx := c.Request().Context()
	effs, err := s.pipeline.Recompute(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "failed to recompute observation")
	}
	obs, err := s.pipeline.GetObservation(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "failed to load observation")
	}
	return c.JSON(http.StatusOK, ObservationResponse{Observation: obs, Effects: effectViews(effs)})
}

func (s *Server) listIdentifications(c echo.Context) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid observation id")
	}
	idents, err := s.pipeline.ListIdentifications(c.Request().Context(), id)
	if err != nil {
		return s.HandleError(c, err, "failed to list identifications")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"observation_id":  id,
		"identifications": idents,
	})
}

func (s *Server) getCuratorPointer(c echo.Context) error {
	obsID, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid observation id")
	}
	projectID, err := uintParam(c, "project_id")
	if err != nil {
		return s.HandleError(c, err, "invalid project id")
	}
	pointer, err := s.pipeline.GetCuratorPointer(c.Request().Context(), obsID, projectID)
	if err != nil {
		return s.HandleError(c, err, "failed to load curator pointer")
	}
	return c.JSON(http.StatusOK, CuratorPointerResponse{
		ObservationID:    obsID,
		ProjectID:        projectID,
		IdentificationID: pointer,
	})
}

// identificationResponse reloads the observation so clients see the derived state.
func (s *Server) identificationResponse(c echo.Context, code int, ident *observation.Identification, effs []effects.Effect) error {
	obs, err := s.pipeline.GetObservation(c.Request().Context(), ident.ObservationID)
	if err != nil {
		return s.HandleError(c, err, "failed to load observation")
	}
	return c.JSON(code, IdentificationResponse{Identification: ident, Observation: obs, Effects: effectViews(effs)})
}

func (s *Server) createIdentification(c echo.Context) error {
	var req CreateIdentificationRequest
	if err := bind(c, &req); err != nil {
		return s.HandleError(c, err, "malformed request body")
	}
	ident := &observation.Identification{
		ObservationID: req.ObservationID,
		UserID:        req.UserID,
		TaxonID:       req.TaxonID,
		Body:          req.Body,
		Disagreement:  req.Disagreement,
		Captive:       observation.ParseCaptiveFlag(req.Captive),
	}
	effs, err := s.pipeline.OnIdentificationCreated(c.Request().Context(), ident)
	if err != nil {
		return s.HandleError(c, err, "failed to create identification")
	}
	return s.identificationResponse(c, http.StatusCreated, ident, effs)
}

func (s *Server) updateIdentification(c echo.Context) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid identification id")
	}
	var req UpdateIdentificationRequest
	if err := bind(c, &req); err != nil {
		return s.HandleError(c, err, "malformed request body")
	}
	ctx := c.Request().Context()

	ident, err := s.pipeline.GetIdentification(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "failed to load identification")
	}
	if req.TaxonID != nil {
		ident.TaxonID = *req.TaxonID
	}
	if req.Body != nil {
		ident.Body = *req.Body
	}
	if req.Disagreement != nil {
		ident.Disagreement = *req.Disagreement
	}
	if req.Captive != nil {
		ident.Captive = observation.ParseCaptiveFlag(*req.Captive)
	}

	effs, err := s.pipeline.OnIdentificationUpdated(ctx, ident)
	if err != nil {
		return s.HandleError(c, err, "failed to update identification")
	}
	return s.identificationResponse(c, http.StatusOK, ident, effs)
}

func (s *Server) destroyIdentification(c echo.Context) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid identification id")
	}
	ctx := c.Request().Context()

	ident, err := s.pipeline.GetIdentification(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "failed to load identification")
	}
	effs, err := s.pipeline.OnIdentificationDestroyed(ctx, &observation.Identification{ID: id})
	if err != nil {
		return s.HandleError(c, err, "failed to delete identification")
	}
	return s.identificationResponse(c, http.StatusOK, ident, effs)
}

func (s *Server) invalidateTaxon(c echo.Context) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return s.HandleError(c, err, "invalid taxon id")
	}
	dropped := s.pipeline.InvalidateTaxon(id)
	if s.metrics != nil {
		s.metrics.Taxonomy.RecordInvalidation(dropped)
	}
	s.log.WithContext(c.Request().Context()).Info("taxon cache invalidated",
		logger.Uint64("taxon_id", uint64(id)),
		logger.Int("entries", dropped))
	return c.JSON(http.StatusOK, map[string]any{"taxon_id": id, "invalidated": dropped})
}

func (s *Server) healthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":         "healthy",
		"checks":         checks,
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	if s.outbox != nil {
		stats, err := s.outbox.Stats(ctx)
		if err == nil {
			body["outbox"] = stats
			if s.metrics != nil {
				s.metrics.ObserveOutbox(stats)
			}
		}
	}
	return c.JSON(status, body)
}
