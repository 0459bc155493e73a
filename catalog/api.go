package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pevans/buloradar/classifier"
	"github.com/pevans/buloradar/content"
	"go.uber.org/zap"
)

// APIServer serves the catalogue and the classify endpoint the pipeline's
// classifier client talks to.
type APIServer struct {
	store   *Store
	triager *Triager
	logger  *zap.Logger
}

// NewAPIServer creates a new catalogue API server. logger may be nil.
func NewAPIServer(store *Store, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIServer{
		store:   store,
		triager: NewTriager(store, DefaultTriageConcurrency, logger),
		logger:  logger,
	}
}

// Wait blocks until reports filed so far have been triaged.
func (s *APIServer) Wait() {
	s.triager.Wait()
}

// SetupRouter configures the Gin router with all catalogue routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.GET("/bulos", s.HandleSearch)
	api.GET("/bulos/recent", s.HandleRecent)
	api.GET("/bulos/lookup", s.HandleLookup)
	api.GET("/bulos/:id", s.HandleGet)
	api.POST("/bulos", s.HandleCreate)
	api.DELETE("/bulos/:id", s.HandleDelete)
	api.GET("/stats", s.HandleStats)
	api.POST("/classify", s.HandleClassify)
	api.GET("/reports", s.HandleListReports)
	api.GET("/reports/:id", s.HandleGetReport)
	api.POST("/reports", s.HandleCreateReport)

	return router
}

// requestLogger logs each request at debug level.
func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// ListResponse represents the response for bulo listings.
type ListResponse struct {
	Bulos []Bulo `json:"bulos"`
	Total int    `json:"total"`
}

// CreateRequest represents the request for POST /api/v1/bulos.
type CreateRequest struct {
	Title       string           `json:"title" binding:"required"`
	Description string           `json:"description" binding:"required"`
	Truth       string           `json:"truth" binding:"required"`
	Platform    string           `json:"platform"`
	Category    string           `json:"category"`
	DangerLevel DangerLevel      `json:"danger_level" binding:"required"`
	URL         *string          `json:"url,omitempty"`
	ImageURL    *string          `json:"image_url,omitempty"`
	Sources     []content.Source `json:"sources,omitempty"`
	Virality    int              `json:"virality"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// ReportRequest represents the request for POST /api/v1/reports.
type ReportRequest struct {
	URL         string  `json:"url" binding:"required"`
	Platform    string  `json:"platform"`
	Description string  `json:"description" binding:"required"`
	Email       *string `json:"email,omitempty"`
}

// ReportListResponse represents the response for report listings.
type ReportListResponse struct {
	Reports []Report `json:"reports"`
	Total   int      `json:"total"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *APIServer) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrBuloNotFound), errors.Is(err, ErrReportNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, ErrDuplicateURL):
		c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, ErrInvalidDangerLevel), errors.Is(err, ErrMissingField),
		errors.Is(err, ErrInvalidReport), errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	default:
		s.logger.Error("Catalogue request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleSearch handles GET /api/v1/bulos.
func (s *APIServer) HandleSearch(c *gin.Context) {
	filter := Filter{
		Query:       c.Query("q"),
		Category:    c.Query("category"),
		Platform:    c.Query("platform"),
		DangerLevel: DangerLevel(c.Query("danger_level")),
	}

	var err error
	if filter.Since, err = parseTimeParam(c, "since"); err != nil {
		return
	}
	if filter.Until, err = parseTimeParam(c, "until"); err != nil {
		return
	}
	if filter.Limit, err = parseIntParam(c, "limit", 50); err != nil {
		return
	}
	if filter.Offset, err = parseIntParam(c, "offset", 0); err != nil {
		return
	}

	bulos, err := s.store.Search(filter)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Bulos: bulos, Total: len(bulos)})
}

// HandleRecent handles GET /api/v1/bulos/recent.
func (s *APIServer) HandleRecent(c *gin.Context) {
	limit, err := parseIntParam(c, "limit", 20)
	if err != nil {
		return
	}

	bulos, err := s.store.Recent(limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Bulos: bulos, Total: len(bulos)})
}

// HandleLookup handles GET /api/v1/bulos/lookup?url=...
func (s *APIServer) HandleLookup(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "url is required"))
		return
	}

	bulo, err := s.store.FindByURL(url)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, bulo)
}

// HandleGet handles GET /api/v1/bulos/{id}.
func (s *APIServer) HandleGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid bulo ID"))
		return
	}

	bulo, err := s.store.Get(id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, bulo)
}

// HandleCreate handles POST /api/v1/bulos.
func (s *APIServer) HandleCreate(c *gin.Context) {
	var req CreateRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	in := NewBulo{
		Title:       req.Title,
		Description: req.Description,
		Truth:       req.Truth,
		Platform:    req.Platform,
		Category:    req.Category,
		DangerLevel: req.DangerLevel,
		URL:         req.URL,
		ImageURL:    req.ImageURL,
		Sources:     req.Sources,
		Virality:    req.Virality,
	}
	if req.PublishedAt != nil {
		in.PublishedAt = *req.PublishedAt
	}

	bulo, err := s.store.Create(in)
	if err != nil {
		s.handleError(c, err)
		return
	}

	s.logger.Info("Catalogued bulo",
		zap.String("bulo_id", bulo.ID.String()),
		zap.String("title", bulo.Title))
	c.JSON(http.StatusCreated, bulo)
}

// HandleDelete handles DELETE /api/v1/bulos/{id}.
func (s *APIServer) HandleDelete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid bulo ID"))
		return
	}

	if err := s.store.Delete(id); err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleStats handles GET /api/v1/stats.
func (s *APIServer) HandleStats(c *gin.Context) {
	stats, err := s.store.Stats()
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleClassify handles POST /api/v1/classify. A unit is flagged only when
// its fingerprint matches a catalogued bulo exactly.
func (s *APIServer) HandleClassify(c *gin.Context) {
	var req classifier.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}
	if !req.Kind.Valid() || req.Payload == "" {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", "kind must be text or image and payload is required"))
		return
	}

	flagged := false
	resp := classifier.Response{IsFlagged: &flagged, Sources: []content.Source{}}

	bulo, err := s.store.Match(content.Fingerprint(req.Kind, req.Payload))
	switch {
	case errors.Is(err, ErrBuloNotFound):
	case err != nil:
		s.handleError(c, err)
		return
	default:
		v := bulo.Verdict("")
		flagged = true
		resp.Title = v.Title
		resp.Description = v.Description
		resp.Explanation = v.Explanation
		resp.Sources = v.Sources
		resp.Reference = v.Reference
	}

	c.JSON(http.StatusOK, resp)
}

// HandleCreateReport handles POST /api/v1/reports. The report is stored as
// pending and triaged in the background.
func (s *APIServer) HandleCreateReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	report, err := s.store.CreateReport(NewReport{
		URL:         req.URL,
		Platform:    req.Platform,
		Description: req.Description,
		Email:       req.Email,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}

	s.triager.Enqueue(report.ID)
	c.JSON(http.StatusAccepted, report)
}

// HandleListReports handles GET /api/v1/reports.
func (s *APIServer) HandleListReports(c *gin.Context) {
	limit, err := parseIntParam(c, "limit", 50)
	if err != nil {
		return
	}

	reports, err := s.store.ListReports(ReportStatus(c.Query("status")), limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ReportListResponse{Reports: reports, Total: len(reports)})
}

// HandleGetReport handles GET /api/v1/reports/{id}.
func (s *APIServer) HandleGetReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid report ID"))
		return
	}

	report, err := s.store.GetReport(id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// parseTimeParam reads an RFC 3339 query parameter, writing a 400 on error.
func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid "+name+": must be RFC 3339"))
		return nil, err
	}
	return &t, nil
}

// parseIntParam reads a non-negative integer query parameter, writing a 400
// on error.
func parseIntParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid "+name))
		if err == nil {
			err = errors.New("negative value")
		}
		return 0, err
	}
	return n, nil
}
