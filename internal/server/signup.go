package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/northmeter/ledger/internal/attribution"
	tenantdomain "github.com/northmeter/ledger/internal/tenant/domain"
)

type signupRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`

	// Attribution context as the browser observed it. Body values win
	// over landing-page query parameters.
	UTMSource    string `json:"utm_source"`
	UTMMedium    string `json:"utm_medium"`
	UTMCampaign  string `json:"utm_campaign"`
	UTMContent   string `json:"utm_content"`
	UTMTerm      string `json:"utm_term"`
	ReferralCode string `json:"referral_code"`
	LandingPage  string `json:"landing_page"`
}

type signupResponse struct {
	TenantID   string `json:"tenant_id"`
	Attributed bool   `json:"attributed"`
}

// Signup registers a tenant. Attribution is captured from the request and
// propagated through tenant creation; a tenant with no attribution signal
// is organic, not an error.
func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	attr := attribution.Capture(attribution.CaptureRequest{
		ReferrerURL:   c.Request.Referer(),
		LandingURL:    req.LandingPage,
		SignupChannel: "web",
		SignupMethod:  "email",
		UTMSource:     req.UTMSource,
		UTMMedium:     req.UTMMedium,
		UTMCampaign:   req.UTMCampaign,
		UTMContent:    req.UTMContent,
		UTMTerm:       req.UTMTerm,
		ReferralCode:  req.ReferralCode,
		Query:         c.Request.URL.Query(),
	}, time.Now().UTC())

	tenantID, err := s.propagator.Propagate(c.Request.Context(), tenantdomain.CreateTenantRequest{
		Name:  req.Name,
		Email: req.Email,
	}, attr)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, signupResponse{
		TenantID:   tenantID.String(),
		Attributed: attr != nil,
	})
}
