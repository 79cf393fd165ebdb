package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

var nonPostMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// RegisterOTPRoutes registers all OTP routes
func RegisterOTPRoutes(router *gin.RouterGroup, otpHandler *OTPHandler) {
	routes := map[string]gin.HandlerFunc{
		"/send-otp":         otpHandler.SendOTP,
		"/verify-otp":       otpHandler.VerifyOTP,
		"/validate-session": otpHandler.ValidateSession,
	}

	for path, handle := range routes {
		router.POST(path, handle)
		for _, method := range nonPostMethods {
			router.Handle(method, path, otpHandler.MethodNotAllowed)
		}
	}
}
