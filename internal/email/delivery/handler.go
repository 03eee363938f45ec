package delivery

import (
	"context"
	"errors"
	"net/http"

	authdelivery "mailrecall-backend/internal/auth/delivery"
	emaildomain "mailrecall-backend/internal/email/domain"
	emaildto "mailrecall-backend/internal/email/dto"
	"mailrecall-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type EmailHandler struct {
	searcher  usecase.Searcher
	suggester usecase.Suggester
	ingestor  usecase.Ingestor
	logger    *zap.Logger
}

func NewEmailHandler(searcher usecase.Searcher, suggester usecase.Suggester, ingestor usecase.Ingestor, logger *zap.Logger) *EmailHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailHandler{
		searcher:  searcher,
		suggester: suggester,
		ingestor:  ingestor,
		logger:    logger,
	}
}

// SemanticSearch handles POST /api/search/semantic
func (h *EmailHandler) SemanticSearch(c *gin.Context) {
	var req emaildto.SemanticSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: "invalid request body"})
		return
	}

	resp, err := h.searcher.Search(c.Request.Context(), usecase.SearchRequest{
		OwnerID:   authdelivery.OwnerID(c),
		Query:     req.Query,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		h.writeError(c, "search", err)
		return
	}

	c.JSON(http.StatusOK, emaildto.SemanticSearchResponse{Results: resp.Results, Total: resp.Total})
}

// GetSearchSuggestions handles GET /api/search/suggestions?q=&limit=
func (h *EmailHandler) GetSearchSuggestions(c *gin.Context) {
	var q emaildto.SuggestionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: "invalid query parameters", Field: "limit"})
		return
	}

	suggestions, err := h.suggester.Suggestions(c.Request.Context(), authdelivery.OwnerID(c), q.Q, q.Limit)
	if err != nil {
		h.writeError(c, "suggestions", err)
		return
	}

	c.JSON(http.StatusOK, emaildto.SuggestionsResponse{Suggestions: suggestions})
}

// IngestEmails handles POST /api/index/ingest
func (h *EmailHandler) IngestEmails(c *gin.Context) {
	var req emaildto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: "email_ids must list between 1 and 500 ids", Field: "email_ids"})
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), authdelivery.OwnerID(c), req.EmailIDs)
	if err != nil {
		h.writeError(c, "ingest", err)
		return
	}

	c.JSON(http.StatusOK, emaildto.IngestResponse{
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Skipped:   result.Skipped,
	})
}

// DeleteEmbedding handles DELETE /api/index/:emailId
func (h *EmailHandler) DeleteEmbedding(c *gin.Context) {
	if err := h.ingestor.Delete(c.Request.Context(), authdelivery.OwnerID(c), c.Param("emailId")); err != nil {
		h.writeError(c, "delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "embedding deleted"})
}

// writeError maps domain error kinds onto HTTP statuses.
func (h *EmailHandler) writeError(c *gin.Context, op string, err error) {
	var verr *emaildomain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, emaildomain.ErrValidation):
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, emaildomain.ErrNotFound):
		c.JSON(http.StatusNotFound, emaildto.ErrorResponse{Error: "not found"})
	case errors.Is(err, emaildomain.ErrConfiguration):
		h.logger.Error("[HTTP] Configuration error", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, emaildto.ErrorResponse{Error: "search misconfigured"})
	case errors.Is(err, emaildomain.ErrDependency),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		h.logger.Warn("[HTTP] Dependency unavailable", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, emaildto.ErrorResponse{Error: "search unavailable, retry"})
	default:
		h.logger.Error("[HTTP] Unexpected error", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, emaildto.ErrorResponse{Error: "internal error"})
	}
}
