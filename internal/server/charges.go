package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	auditdomain "github.com/alphagov/pay-connector-sub019/internal/audit/domain"
	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
)

type createChargeRequest struct {
	Amount int64 `json:"amount"`
}

type chargeResponse struct {
	ExternalID           string     `json:"charge_id"`
	Amount               int64      `json:"amount"`
	Status               string     `json:"status"`
	Finished             bool       `json:"finished"`
	Provider             string     `json:"payment_provider"`
	GatewayTransactionID *string    `json:"gateway_transaction_id,omitempty"`
	CreatedDate          time.Time  `json:"created_date"`
	ParityCheckStatus    *string    `json:"parity_check_status,omitempty"`
	ParityCheckDate      *time.Time `json:"parity_check_date,omitempty"`
}

func toChargeResponse(charge *chargedomain.Charge, graph *chargedomain.StatusGraph) chargeResponse {
	return chargeResponse{
		ExternalID:           charge.ExternalID,
		Amount:               charge.Amount,
		Status:               string(charge.Status.External()),
		Finished:             graph.IsTerminal(charge.Status),
		Provider:             charge.Provider,
		GatewayTransactionID: charge.GatewayTransactionID,
		CreatedDate:          charge.CreatedAt,
		ParityCheckStatus:    charge.ParityCheckStatus,
		ParityCheckDate:      charge.ParityCheckDate,
	}
}

// @Summary      Create Charge
// @Description  Create a new charge for a gateway account
// @Tags         charges
// @Accept       json
// @Produce      json
// @Param        accountID  path  string               true  "Gateway Account ID"
// @Param        request    body  createChargeRequest  true  "Create Charge Request"
// @Success      200  {object}  chargeResponse
// @Router       /v1/api/accounts/{accountID}/charges [post]
func (s *Server) CreateCharge(c *gin.Context) {
	accountID, err := parseAccountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, chargedomain.ErrInvalidAmount)
		return
	}

	charge, err := s.charges.Create(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.audit != nil {
		s.audit.Record(c.Request.Context(), auditdomain.ActorTypeAPI, "charge.create", "charge", charge.ExternalID, map[string]interface{}{
			"gateway_account_id": accountID.String(),
			"amount":             charge.Amount,
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": toChargeResponse(charge, s.graph)})
}

// @Summary      Get Charge
// @Description  Get a charge by its external id
// @Tags         charges
// @Produce      json
// @Param        accountID  path  string  true  "Gateway Account ID"
// @Param        chargeID   path  string  true  "Charge External ID"
// @Success      200  {object}  chargeResponse
// @Router       /v1/api/accounts/{accountID}/charges/{chargeID} [get]
func (s *Server) GetCharge(c *gin.Context) {
	charge, err := s.findAccountCharge(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toChargeResponse(charge, s.graph)})
}

// @Summary      Cancel Charge
// @Description  Cancel a charge on the paying user's behalf
// @Tags         charges
// @Produce      json
// @Param        accountID  path  string  true  "Gateway Account ID"
// @Param        chargeID   path  string  true  "Charge External ID"
// @Success      200  {object}  chargeResponse
// @Router       /v1/api/accounts/{accountID}/charges/{chargeID}/cancel [post]
func (s *Server) CancelCharge(c *gin.Context) {
	charge, err := s.findAccountCharge(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cancelled, err := s.charges.Apply(c.Request.Context(), charge.ID, chargedomain.StatusUserCancelled, chargedomain.TriggerUserCancel, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.audit != nil {
		s.audit.Record(c.Request.Context(), auditdomain.ActorTypeAPI, "charge.cancel", "charge", cancelled.ExternalID, map[string]interface{}{
			"status": string(cancelled.Status),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": toChargeResponse(cancelled, s.graph)})
}

func (s *Server) findAccountCharge(c *gin.Context) (*chargedomain.Charge, error) {
	accountID, err := parseAccountID(c)
	if err != nil {
		return nil, err
	}

	externalID := strings.TrimSpace(c.Param("chargeID"))
	if externalID == "" {
		return nil, chargedomain.ErrChargeNotFound
	}

	charge, err := s.repo.FindByExternalID(c.Request.Context(), s.db, externalID)
	if err != nil {
		return nil, err
	}
	// Charges are scoped to their account; a valid id under the wrong
	// account is indistinguishable from a missing one.
	if charge.GatewayAccountID != accountID {
		return nil, chargedomain.ErrChargeNotFound
	}
	return charge, nil
}

func parseAccountID(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("accountID"))
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError("accountID", "invalid_account_id", "invalid account id")
	}
	return id, nil
}
