// Package router decides where a logged-in user lands.
package router

import (
	"net/url"
	"strings"

	"portal-auth/internal/apps/auth/models"
	usermodels "portal-auth/internal/apps/user/models"
)

const (
	PathDashboard    = "/dashboard"
	PathReportViewer = "/report-viewer"
)

// Route returns the destination for user. Admins and patients always land on
// the dashboard; everyone else goes to the target patient's report when one is set.
func Route(user models.User, targetPatientID string) string {
	switch user.ProfileType {
	case usermodels.ProfileAdmin, usermodels.ProfilePatient:
		return PathDashboard
	}
	if targetPatientID != "" {
		return PathReportViewer + "?patientId=" + escapeComponent(targetPatientID)
	}
	return PathDashboard
}

// componentUnescapes undoes the query escapes a URI component leaves as-is
var componentUnescapes = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent escapes s like a URI component: spaces become %20, not +
func escapeComponent(s string) string {
	return componentUnescapes.Replace(url.QueryEscape(s))
}

// Greeting is the welcome text shown with the redirect
func Greeting(user models.User, targetPatientID string) string {
	switch user.ProfileType {
	case usermodels.ProfileAdmin:
		return "Welcome admin! Redirecting to dashboard..."
	case usermodels.ProfilePatient:
		return "Welcome patient! Redirecting to dashboard..."
	}
	if targetPatientID != "" {
		return "Welcome! Redirecting to your report..."
	}
	return "Welcome! Redirecting to dashboard..."
}
