package processor

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/errors"
	"github.com/seanankenbruck/finance-ai/internal/observability"
)

// AuthMiddleware is an interface for authentication middleware
type AuthMiddleware interface {
	Middleware() gin.HandlerFunc
}

// TemplateInfo is the public description of a catalog template
type TemplateInfo struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Params      []catalog.Param `json:"params"`
	Kind        string          `json:"result_kind"`
	Keywords    []string        `json:"keywords,omitempty"`
}

// SetupRoutes configures HTTP routes with optional authentication
func (p *Processor) SetupRoutes(authMiddleware AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.Use(observability.RecoveryMiddleware(p.logger))
	r.Use(observability.RequestLoggingMiddleware(p.logger))
	r.Use(observability.MetricsMiddleware())
	r.Use(observability.CORSWithLogging(p.logger))

	r.GET("/health", p.handleHealth)
	r.GET("/metrics", observability.MetricsHandler())

	publicAPI := r.Group("/api/v1")
	{
		publicAPI.GET("/health", p.handleHealth)
	}

	api := r.Group("/api/v1")
	if authMiddleware != nil {
		api.Use(authMiddleware.Middleware())
	}
	{
		api.POST("/answer", p.handleAnswer)
		api.GET("/templates", p.handleListTemplates)
		api.GET("/templates/:id", p.handleGetTemplate)
		api.GET("/promotions", p.handlePromotions)
	}

	return r
}

func (p *Processor) handleHealth(c *gin.Context) {
	if p.healthChecker == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "finance-ai",
		})
		return
	}

	response := p.healthChecker.GetHealthResponse(c.Request.Context())
	statusCode := http.StatusOK
	if response.Status == observability.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

func (p *Processor) handleAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		enhancedErr := errors.NewInvalidInputError("request body", err.Error())
		c.JSON(http.StatusBadRequest, formatErrorResponse(enhancedErr))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		enhancedErr := errors.NewInvalidInputError("question", "must not be blank")
		c.JSON(http.StatusBadRequest, formatErrorResponse(enhancedErr))
		return
	}

	// a clarification is a normal answer, not an HTTP error
	c.JSON(http.StatusOK, p.Answer(c.Request.Context(), req.Question))
}

func (p *Processor) handleListTemplates(c *gin.Context) {
	templates := p.catalog.All()
	infos := make([]TemplateInfo, 0, len(templates))
	for _, t := range templates {
		infos = append(infos, templateInfo(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"templates": infos,
		"count":     len(infos),
	})
}

func (p *Processor) handleGetTemplate(c *gin.Context) {
	t, err := p.catalog.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, templateInfo(t))
}

func (p *Processor) handlePromotions(c *gin.Context) {
	if p.questionLog == nil {
		c.JSON(http.StatusOK, gin.H{"candidates": []interface{}{}, "count": 0})
		return
	}

	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			enhancedErr := errors.NewInvalidInputError("days", "must be an integer between 1 and 365")
			c.JSON(http.StatusBadRequest, formatErrorResponse(enhancedErr))
			return
		}
		days = n
	}

	since := time.Now().AddDate(0, 0, -days)
	candidates, err := p.questionLog.PromotionCandidates(c.Request.Context(), since, 50)
	if err != nil {
		enhancedErr := errors.NewDatabaseQueryError(err, "fetching promotion candidates")
		c.JSON(http.StatusInternalServerError, formatErrorResponse(enhancedErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

func templateInfo(t *catalog.Template) TemplateInfo {
	return TemplateInfo{
		ID:          t.ID,
		Description: t.Description,
		Params:      t.Params,
		Kind:        t.ResultKind(),
		Keywords:    t.Shape.Keywords,
	}
}

// formatErrorResponse formats an error into a user-friendly response. Causes
// are never included.
func formatErrorResponse(err error) gin.H {
	var enhancedErr *errors.EnhancedError
	if stderrors.As(err, &enhancedErr) {
		body := gin.H{
			"code":    enhancedErr.Code,
			"message": enhancedErr.Message,
		}
		if enhancedErr.Details != "" {
			body["details"] = enhancedErr.Details
		}
		if enhancedErr.Suggestion != "" {
			body["suggestion"] = enhancedErr.Suggestion
		}
		return gin.H{"error": body}
	}

	return gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "An unexpected error occurred",
		},
	}
}

// getErrorStatusCode returns the appropriate HTTP status code for an error
func getErrorStatusCode(err error) int {
	var enhancedErr *errors.EnhancedError
	if stderrors.As(err, &enhancedErr) {
		switch enhancedErr.Code {
		case errors.ErrCodeInvalidInput, errors.ErrCodeMissingRequired, errors.ErrCodeParameterBinding:
			return http.StatusBadRequest
		case errors.ErrCodeNotAuthenticated:
			return http.StatusUnauthorized
		case errors.ErrCodeRateLimited:
			return http.StatusTooManyRequests
		case errors.ErrCodeTemplateNotFound:
			return http.StatusNotFound
		case errors.ErrCodeBackendUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
