package treatment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/ehr/txengine/internal/domain/protocol"
	"github.com/ehr/txengine/internal/platform/auth"
	"github.com/ehr/txengine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: clinician, nurse, pharmacist
	readGroup := api.Group("", auth.RequireRole(auth.ReadRoles...))
	readGroup.GET("/protocols", h.ListProtocols)
	readGroup.GET("/protocols/:name", h.GetProtocol)
	readGroup.GET("/patients/:patient/treatments", h.GetTreatments)
	readGroup.GET("/patient-treatments", h.ListTreatments)

	// Write endpoints: clinician
	writeGroup := api.Group("", auth.RequireRole(auth.WriteRoles...))
	writeGroup.POST("/patients/:patient/evaluations", h.Evaluate)
	writeGroup.DELETE("/patients/:patient/treatments/:order", h.Discontinue)
}

type signRequest struct {
	Kind  string          `json:"kind" validate:"required,oneof=blood_pressure pain_score liver_failure central_venous_line"`
	Value json.RawMessage `json:"value" validate:"required"`
}

type evaluateRequest struct {
	Protocols []string      `json:"protocols" validate:"required,min=1,max=16,dive,required"`
	Signs     []signRequest `json:"signs" validate:"max=256,dive"`
}

func (r evaluateRequest) signs() ([]protocol.Sign, error) {
	out := make([]protocol.Sign, 0, len(r.Signs))
	for i, s := range r.Signs {
		sign, err := protocol.DecodeSign(protocol.SignKind(s.Kind), s.Value)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "signs["+strconv.Itoa(i)+"]: "+err.Error())
		}
		out = append(out, sign)
	}
	return out, nil
}

// paramValidator is implemented by httpx.Validator.
type paramValidator interface {
	Var(name string, value interface{}, tag string) error
}

// param reads a path parameter and checks it against the identifier rules
// when the echo validator supports single-value checks.
func param(c echo.Context, name string) (string, error) {
	v := c.Param(name)
	if v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	if pv, ok := c.Echo().Validator.(paramValidator); ok {
		if err := pv.Var(name, v, "required,identifier"); err != nil {
			return "", err
		}
	}
	return v, nil
}

func (h *Handler) ListProtocols(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Protocols())
}

func (h *Handler) GetProtocol(c echo.Context) error {
	p, err := h.svc.Protocol(c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Evaluate(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(&req); err != nil {
			return err
		}
	}
	signs, err := req.signs()
	if err != nil {
		return err
	}

	ev, err := h.svc.Evaluate(c.Request().Context(), EvaluateInput{
		Patient:   protocol.NewPatient(patient),
		Protocols: req.Protocols,
		Signs:     signs,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) GetTreatments(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	cur, err := h.svc.Current(c.Request().Context(), protocol.NewPatient(patient))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cur)
}

func (h *Handler) Discontinue(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	order, err := param(c, "order")
	if err != nil {
		return err
	}
	if err := h.svc.Discontinue(c.Request().Context(), protocol.NewPatient(patient), protocol.Order(order)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListTreatments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrPatientRequired), errors.Is(err, ErrNoProtocols):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownProtocol), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
