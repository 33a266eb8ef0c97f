package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
)

// StatesResponse maps entity ids to their lifecycle state. Ids without any
// lifecycle event are listed in Unknown.
type StatesResponse struct {
	EntityType domain.EntityType             `json:"entityType"`
	States     map[string]domain.EntityState `json:"states"`
	Unknown    []string                      `json:"unknown"`
}

// GetEntityStates handles GET /entities/:entityType/states?ids=a,b.
func (s *Server) GetEntityStates(c *gin.Context) {
	entityType, err := domain.ParseEntityType(c.Param("entityType"))
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidRequest, "unknown entity type"))
		return
	}

	var ids []string
	for _, raw := range c.QueryArray("ids") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		_ = c.Error(apperrors.ErrInvalidRequestf("ids is required"))
		return
	}

	states, err := s.states.EntityStates(c.Request.Context(), entityType, ids)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := StatesResponse{
		EntityType: entityType,
		States:     make(map[string]domain.EntityState, len(ids)),
		Unknown:    []string{},
	}
	for _, id := range ids {
		if st, ok := states[id]; ok {
			resp.States[id] = st
		} else {
			resp.Unknown = append(resp.Unknown, id)
		}
	}
	c.JSON(http.StatusOK, resp)
}
