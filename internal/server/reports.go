package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"github.com/smallbiznis/railzway-reports/pkg/db/pagination"
)

func (s *Server) GenerateReport(c *gin.Context) {
	var req reportdomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = subjectFromContext(c)

	res, err := s.reportSvc.Generate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"reportId": res.Report.ID.String(),
		"existing": res.Existing,
		"report":   res.Report,
	})
}

func (s *Server) ListReports(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := reportdomain.ReportStatus(strings.ToLower(strings.TrimSpace(query.Status)))
	switch status {
	case "", reportdomain.ReportStatusPending, reportdomain.ReportStatusGenerated, reportdomain.ReportStatusFailed:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.reportSvc.List(c.Request.Context(), reportdomain.ListRequest{
		UserID:     subjectFromContext(c),
		Status:     status,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReport(c *gin.Context) {
	report, err := s.reportSvc.Get(c.Request.Context(), subjectFromContext(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) DownloadReport(c *gin.Context) {
	download, err := s.reportSvc.Download(c.Request.Context(), subjectFromContext(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+download.FileName+`"`)
	c.Header("Content-Length", strconv.Itoa(len(download.Content)))
	c.Data(http.StatusOK, download.ContentType, download.Content)
}

func (s *Server) ScheduleReports(c *gin.Context) {
	var body struct {
		ReportType string `json:"reportType"`
		PeriodDays int    `json:"periodDays"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if body.PeriodDays < 0 {
		AbortWithError(c, newValidationError("periodDays", "invalid_period_days", "periodDays must be positive"))
		return
	}

	resp, err := s.reportSvc.ScheduleDue(c.Request.Context(), reportdomain.ScheduleRequest{
		ReportType: strings.TrimSpace(body.ReportType),
		PeriodDays: body.PeriodDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
