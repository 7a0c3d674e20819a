package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	auditdomain "github.com/alphagov/pay-connector-sub019/internal/audit/domain"
)

// RunParityCheck compares a range of charges against the ledger's copy and
// forces re-emission where the ledger is stale. Operator-triggered.
func (s *Server) RunParityCheck(c *gin.Context) {
	var query struct {
		StartID             string `form:"start_id"`
		MaxID               string `form:"max_id"`
		SkipPreviouslyValid bool   `form:"skip_previously_valid"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startID, err := parseOptionalID(query.StartID, 0)
	if err != nil {
		AbortWithError(c, newValidationError("start_id", "invalid_start_id", "invalid start_id"))
		return
	}
	maxID, err := parseOptionalID(query.MaxID, snowflake.ID(1<<62))
	if err != nil {
		AbortWithError(c, newValidationError("max_id", "invalid_max_id", "invalid max_id"))
		return
	}

	summary, err := s.parity.Check(c.Request.Context(), startID, maxID, query.SkipPreviouslyValid)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.audit != nil {
		s.audit.Record(c.Request.Context(), auditdomain.ActorTypeOperator, "task.parity_check", "task", "parity-checker", map[string]interface{}{
			"checked":    summary.Checked,
			"mismatched": summary.Mismatched,
			"missing":    summary.Missing,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"checked":    summary.Checked,
		"matched":    summary.Matched,
		"mismatched": summary.Mismatched,
		"missing":    summary.Missing,
		"skipped":    summary.Skipped,
	}})
}

// RunExpirySweep expires abandoned pre-authorisation charges immediately
// instead of waiting for the next scheduled sweep.
func (s *Server) RunExpirySweep(c *gin.Context) {
	expired, err := s.expiry.SweepOnce(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.audit != nil {
		s.audit.Record(c.Request.Context(), auditdomain.ActorTypeOperator, "task.expiry_sweep", "task", "expired-charges-sweep", map[string]interface{}{
			"expired": expired,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"expired": expired}})
}

func parseOptionalID(raw string, fallback snowflake.ID) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return snowflake.ParseString(raw)
}
