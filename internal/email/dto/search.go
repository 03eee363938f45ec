package dto

import emaildomain "mailrecall-backend/internal/email/domain"

// SemanticSearchRequest is the body of POST /api/search/semantic.
// Range checks on limit and threshold are done by the search engine so every
// rejection carries the same error shape.
type SemanticSearchRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"threshold"`
}

type SemanticSearchResponse struct {
	Results []emaildomain.SearchResult `json:"results"`
	Total   int                        `json:"total"`
}

type SuggestionsQuery struct {
	Q     string `form:"q"`
	Limit int    `form:"limit"`
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type IngestRequest struct {
	EmailIDs []string `json:"email_ids" binding:"required,min=1,max=500"`
}

type IngestResponse struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	Skipped   []string          `json:"skipped"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
