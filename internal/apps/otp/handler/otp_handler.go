package handler

import (
	"errors"
	"net/http"

	"portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/service"

	"github.com/gin-gonic/gin"
)

// OTPHandler handles the send, verify and validate-session endpoints
type OTPHandler struct {
	gateway service.Gateway
}

// NewOTPHandler creates a new instance of OTPHandler
func NewOTPHandler(gateway service.Gateway) *OTPHandler {
	return &OTPHandler{gateway: gateway}
}

// SendOTP handles POST /api/send-otp
func (h *OTPHandler) SendOTP(c *gin.Context) {
	var req models.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// An unreadable body is treated as an empty one and fails the phone check.
		req = models.SendOTPRequest{}
	}

	res, err := h.gateway.SendOTP(c.Request.Context(), req)
	respond(c, res, err)
}

// VerifyOTP handles POST /api/verify-otp
func (h *OTPHandler) VerifyOTP(c *gin.Context) {
	var req models.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusInternalServerError, models.Failed(service.MsgServerError))
		return
	}

	res, err := h.gateway.VerifyOTP(c.Request.Context(), req)
	respond(c, res, err)
}

// ValidateSession handles POST /api/validate-session
func (h *OTPHandler) ValidateSession(c *gin.Context) {
	var req models.ValidateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, models.InvalidSession())
		return
	}
	c.JSON(http.StatusOK, h.gateway.ValidateSession(c.Request.Context(), req.SessionID))
}

// MethodNotAllowed answers every non-POST method on the OTP endpoints
func (h *OTPHandler) MethodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodPost)
	c.JSON(http.StatusMethodNotAllowed, models.Failed("Method not allowed. Use POST."))
}

func respond(c *gin.Context, res *models.GatewayResult, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, res)
	case err != nil, res == nil:
		c.JSON(http.StatusInternalServerError, models.Failed(service.MsgServerError))
	case res.Success:
		c.JSON(http.StatusOK, res)
	default:
		c.JSON(http.StatusBadRequest, res)
	}
}
