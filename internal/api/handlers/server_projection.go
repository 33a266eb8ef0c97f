package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
	"orgdir.io/orgdir/internal/pkg/validate"
	"orgdir.io/orgdir/internal/projection"
)

// NormalizeResponse is the body of a normalize invocation.
type NormalizeResponse struct {
	EntityType domain.EntityType   `json:"entityType"`
	Merged     bool                `json:"merged"`
	Count      int                 `json:"count"`
	Documents  []domain.Normalized `json:"documents"`
}

// MaterializeResponse is the body of a materialize invocation.
type MaterializeResponse struct {
	EntityType domain.EntityType     `json:"entityType"`
	Merged     bool                  `json:"merged"`
	Count      int                   `json:"count"`
	Documents  []domain.Materialized `json:"documents"`
}

// Normalize handles POST /projections/normalize.
func (s *Server) Normalize(c *gin.Context) {
	req, ok := bindProjectionRequest(c)
	if !ok {
		return
	}
	docs, err := s.normalizer.Build(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if docs == nil {
		docs = []domain.Normalized{}
	}
	c.JSON(http.StatusOK, NormalizeResponse{
		EntityType: req.EntityType,
		Merged:     req.Merge(),
		Count:      len(docs),
		Documents:  docs,
	})
}

// Materialize handles POST /projections/materialize.
func (s *Server) Materialize(c *gin.Context) {
	req, ok := bindProjectionRequest(c)
	if !ok {
		return
	}
	docs, err := s.materializer.Build(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if docs == nil {
		docs = []domain.Materialized{}
	}
	c.JSON(http.StatusOK, MaterializeResponse{
		EntityType: req.EntityType,
		Merged:     req.Merge(),
		Count:      len(docs),
		Documents:  docs,
	})
}

func bindProjectionRequest(c *gin.Context) (projection.Request, bool) {
	var req projection.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidRequest, "malformed projection request"))
		return req, false
	}
	if err := validate.Struct("projection", req); err != nil {
		_ = c.Error(err)
		return req, false
	}
	return req, true
}
