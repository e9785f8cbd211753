package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cloo-solutions/docvec/internal/api"
	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, req service.SearchRequest) (*service.SearchResponse, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// SearchWeights overrides ranking weights. Omitted weights keep the
// configured value.
type SearchWeights struct {
	Similarity *float64 `json:"similarity" validate:"omitnil,gte=0"`
	Frequency  *float64 `json:"frequency" validate:"omitnil,gte=0"`
	Recency    *float64 `json:"recency" validate:"omitnil,gte=0"`
}

type SearchRequest struct {
	Query        string         `json:"query"`
	Threshold    *float64       `json:"threshold" validate:"omitnil,gte=-1,lte=1"`
	Limit        int            `json:"limit" validate:"gte=0,lte=100"`
	DocumentType string         `json:"document_type"`
	Status       string         `json:"status" validate:"omitempty,oneof=pending processing completed failed"`
	UsageRanking *bool          `json:"usage_ranking"`
	Weights      *SearchWeights `json:"weights"`
}

type SearchResultResponse struct {
	ChunkID       string         `json:"chunk_id"`
	EmbeddingID   string         `json:"embedding_id"`
	DocumentID    string         `json:"document_id"`
	Location      string         `json:"location"`
	DocumentType  string         `json:"document_type"`
	ChunkIndex    int            `json:"chunk_index"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Similarity    float64        `json:"similarity"`
	UsageCount    int64          `json:"usage_count"`
	LastUsedAt    *time.Time     `json:"last_used_at,omitempty"`
	UsageScore    float64        `json:"usage_score"`
	CombinedScore float64        `json:"combined_score"`
}

type SearchResponse struct {
	Results    []*SearchResultResponse `json:"results"`
	Model      string                  `json:"model"`
	Dimensions int                     `json:"dimensions"`
	DurationMs int64                   `json:"duration_ms"`
}

// Search answers a similarity query. A blank query yields an empty result.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		api.Error(w, decodeStatus(err), err.Error())
		return
	}

	in := service.SearchRequest{
		Query:        req.Query,
		Threshold:    req.Threshold,
		Limit:        req.Limit,
		DocumentType: req.DocumentType,
		Status:       domain.DocumentStatus(req.Status),
		UsageRanking: req.UsageRanking,
	}
	if req.Weights != nil {
		in.Weights = &service.RankingWeights{
			Similarity: req.Weights.Similarity,
			Frequency:  req.Weights.Frequency,
			Recency:    req.Weights.Recency,
		}
	}

	out, err := h.svc.Search(r.Context(), in)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, NewSearchResponse(out))
}

// NewSearchResponse converts a service result into its JSON form.
func NewSearchResponse(out *service.SearchResponse) *SearchResponse {
	results := make([]*SearchResultResponse, 0, len(out.Results))
	for _, res := range out.Results {
		results = append(results, &SearchResultResponse{
			ChunkID:       res.ChunkID,
			EmbeddingID:   res.EmbeddingID,
			DocumentID:    res.DocumentID,
			Location:      res.Location,
			DocumentType:  res.DocumentType,
			ChunkIndex:    res.ChunkIndex,
			Content:       res.Content,
			Metadata:      res.Metadata,
			Similarity:    res.Similarity,
			UsageCount:    res.UsageCount,
			LastUsedAt:    res.LastUsedAt,
			UsageScore:    res.UsageScore,
			CombinedScore: res.CombinedScore,
		})
	}
	return &SearchResponse{
		Results:    results,
		Model:      out.Model,
		Dimensions: out.Dimensions,
		DurationMs: out.DurationMs,
	}
}
