package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/receivables/internal/calendar"
)

type businessMinutesQuery struct {
	Start string `form:"start"`
	End   string `form:"end"`
}

// BusinessMinutes reports the working minutes between two instants under the
// configured work window.
func (s *Server) BusinessMinutes(c *gin.Context) {
	var query businessMinutesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := parseOptionalTime(query.Start)
	if err != nil || start == nil {
		AbortWithError(c, newValidationError("start", "invalid_start", "start must be RFC3339"))
		return
	}
	end, err := parseOptionalTime(query.End)
	if err != nil || end == nil {
		AbortWithError(c, newValidationError("end", "invalid_end", "end must be RFC3339"))
		return
	}

	policy := s.policy.Get().WorkWindow
	window, err := calendar.ParseWorkWindow(policy.Start, policy.End, policy.NonWorkingDay, s.cfg.Ledger.Location())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"start":   start,
			"end":     end,
			"minutes": window.BusinessMinutes(*start, *end),
		},
	})
}
