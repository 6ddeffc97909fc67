package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/celerix-dev/celerix-presence/internal/photo"
	"github.com/celerix-dev/celerix-presence/internal/roster"
	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/gin-gonic/gin"
)

// Presence is what the handlers need from the service layer.
type Presence interface {
	People() []schema.Person
	Enroll(req roster.EnrollRequest) (schema.Person, error)
	Ingest(req ledger.IngestRequest) (schema.AttendanceEvent, error)
	Events(personID string) []schema.AttendanceEvent
	Evaluate() []schema.EvaluationResult
	Summary() schema.Summary
	Scan(ctx context.Context, period int) (scan.Outcome, error)
	Status() scan.Status
	SelectPeriod(period int) error
	Reacquire() error
}

type Handler struct {
	Presence Presence
}

// Register mounts every route on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/roster", h.GetRoster)
	g.POST("/roster", h.Enroll)
	g.GET("/events", h.GetEvents)
	g.POST("/events", h.Ingest)
	g.GET("/evaluations", h.GetEvaluations)
	g.GET("/summary", h.GetSummary)
	g.GET("/scan", h.GetScan)
	g.POST("/scan", h.Scan)
	g.PUT("/scan/period", h.SelectPeriod)
	g.POST("/scan/reacquire", h.Reacquire)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidPeriod),
		errors.Is(err, ledger.ErrInvalidConfidence),
		errors.Is(err, ledger.ErrMissingPerson),
		errors.Is(err, roster.ErrInvalidEnrollment),
		errors.Is(err, photo.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownPerson),
		errors.Is(err, roster.ErrPersonNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateForPeriod),
		errors.Is(err, scan.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, scan.ErrEmptyRoster):
		return http.StatusPreconditionFailed
	case errors.Is(err, scan.ErrCaptureDeviceUnavailable),
		errors.Is(err, scan.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// personView is a roster entry without its reference image.
type personView struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	BaselineScore int    `json:"baselineScore"`
	EnrolledAt    int64  `json:"enrolledAt"`
}

func viewOf(p schema.Person) personView {
	return personView{ID: p.ID, DisplayName: p.DisplayName, BaselineScore: p.BaselineScore, EnrolledAt: p.EnrolledAt}
}

func (h *Handler) GetRoster(c *gin.Context) {
	people := h.Presence.People()
	out := make([]personView, len(people))
	for i, p := range people {
		out[i] = viewOf(p)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Enroll(c *gin.Context) {
	var input struct {
		DisplayName    string `json:"displayName"`
		BaselineScore  int    `json:"baselineScore"`
		ReferenceImage string `json:"referenceImage"` // data URL or bare base64
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img, err := photo.DecodeDataURL(input.ReferenceImage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	person, err := h.Presence.Enroll(roster.EnrollRequest{
		DisplayName:    input.DisplayName,
		BaselineScore:  input.BaselineScore,
		ReferenceImage: img,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(person))
}

func (h *Handler) GetEvents(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.Events(c.Query("person")))
}

func (h *Handler) Ingest(c *gin.Context) {
	var req ledger.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := h.Presence.Ingest(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *Handler) GetEvaluations(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.Evaluate())
}

func (h *Handler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.Summary())
}

func (h *Handler) GetScan(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.Status())
}

type periodInput struct {
	Period int `json:"period"`
}

func (h *Handler) Scan(c *gin.Context) {
	var input periodInput
	// The body is optional.
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Presence.Scan(c.Request.Context(), input.Period)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "outcome": out})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) SelectPeriod(c *gin.Context) {
	var input periodInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Presence.SelectPeriod(input.Period); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Presence.Status())
}

func (h *Handler) Reacquire(c *gin.Context) {
	if err := h.Presence.Reacquire(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Presence.Status())
}
