package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=100"`
}

func testServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	routes := HandlerFunc(func(e *echo.Echo) {
		e.GET("/ping/:id", func(c echo.Context) error {
			var req pingRequest
			if errs := ReadAndValidateRequest(c, &req); errs != nil {
				return BadRequestResponse(c, errs)
			}
			return SuccessResponse(c, req)
		})
		e.GET("/missing", func(c echo.Context) error {
			return AppErrorResponse(c, NotFoundErrorf("stream %s not found", "X"))
		})
		e.GET("/boom", func(c echo.Context) error { panic(errors.New("kaboom")) })
	})
	return NewServer([]Handler{routes}, WithMetrics("/metrics", reg, reg)), reg
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_ValidationEnvelope(t *testing.T) {
	s, _ := testServer(t)

	rec := serve(s, http.MethodGet, "/ping/1?symbol=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":{"symbol":"AAPL","limit":10}}`, rec.Body.String())

	rec = serve(s, http.MethodGet, "/ping/1?limit=500")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"code":"ERR_REQUIRED"`)
	assert.Contains(t, body, `"field":"symbol"`)
	assert.Contains(t, body, `"code":"ERR_LTE"`)
}

func TestServer_AppErrorAndPanic(t *testing.T) {
	s, _ := testServer(t)

	rec := serve(s, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream X not found")

	rec = serve(s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_MetricsUseRouteTemplate(t *testing.T) {
	s, reg := testServer(t)

	serve(s, http.MethodGet, "/ping/1?symbol=A")
	serve(s, http.MethodGet, "/ping/2?symbol=B")

	expected := `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{method="GET",route="/ping/:id",status="200"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "http_requests_total"))

	rec := serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}

func TestServer_CORSPreflight(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/ping/1", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
