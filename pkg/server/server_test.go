package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coolbeans/gifttax/pkg/gift"
	"github.com/coolbeans/gifttax/pkg/lawtable"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testTable = `
metadata:
  version: "scenario"
  reference: "Scenario Act"
deductions:
  resident:
    lineal_descendant: 50000000
    spouse: 600000000
progressive_rates:
  - threshold: 0
    rate: 0.10
    deduction: 0
  - threshold: 100000000
    rate: 0.20
    deduction: 10000000
`

func init() {
	gin.SetMode(gin.TestMode)
}

// staticLaw serves a fixed snapshot.
type staticLaw struct {
	law *lawtable.LawContext
}

func (s staticLaw) Current() *lawtable.LawContext { return s.law }

func newTestServer(t *testing.T, table string, opts ...Option) *Server {
	t.Helper()
	law, err := lawtable.Parse([]byte(table), "test")
	require.NoError(t, err)
	return New(staticLaw{law: law}, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	assert.Equal(t, false, body["success"])
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "error envelope missing: %v", body)
	return errBody["code"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testTable)

	w, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "scenario", body["law_version"])
	assert.Equal(t, true, body["configured"])
}

func TestHealthWithoutTable(t *testing.T) {
	s := New(staticLaw{})

	w, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", body["status"])

	w, body = do(t, s, http.MethodPost, "/api/compute", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "LAW_TABLE_UNAVAILABLE", errorCode(t, body))
}

func TestLawEndpoint(t *testing.T) {
	s := newTestServer(t, strings.Replace(testTable, "spouse: 600000000", "spouse: PLACEHOLDER", 1))

	w, body := do(t, s, http.MethodGet, "/api/law", "")
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "scenario", data["version"])
	assert.Equal(t, false, data["configured"])
	assert.Equal(t, []any{"deductions.resident.spouse"}, data["gaps"])

	resident := data["deductions"].(map[string]any)["resident"].(map[string]any)
	assert.Nil(t, resident["spouse"])
	assert.Equal(t, "50000000", resident["lineal_descendant"])
	assert.Len(t, data["brackets"], 2)
}

func TestComputeSuccess(t *testing.T) {
	s := newTestServer(t, testTable)

	w, body := do(t, s, http.MethodPost, "/api/compute", `{
		"residency": "resident",
		"relationship": "lineal-descendant",
		"gift_date": "2025-02-10",
		"amount": 120000000,
		"prior_gifts": [{"date": "2016-02-10", "amount": "60,000,000"}]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "130000000", data["taxable_base"])
	assert.Equal(t, "16000000", data["gross_tax"])
	assert.Equal(t, "1000000", data["prior_tax_credit"])
	assert.Equal(t, "15000000", data["tax_due"])
	assert.Equal(t, "recompute", data["credit_method"])

	lines := body["report"].([]any)
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0].(string), "1. "))
}

func TestComputeUnconfiguredTable(t *testing.T) {
	s := newTestServer(t, strings.Replace(testTable, "rate: 0.20", "rate: PLACEHOLDER", 1))

	w, body := do(t, s, http.MethodPost, "/api/compute",
		`{"residency":"resident","relationship":"spouse","gift_date":"2025-02-10","amount":"700000000"}`)
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["law_configured"])
	assert.Nil(t, data["tax_due"])
	assert.Equal(t, "100000000", data["taxable_base"])
}

func TestComputeValidationFailure(t *testing.T) {
	s := newTestServer(t, testTable)

	w, body := do(t, s, http.MethodPost, "/api/compute",
		`{"residency":"tourist","relationship":"spouse","gift_date":"2025-13-01","amount":"-1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))

	problems := body["error"].(map[string]any)["problems"].([]any)
	var fields []string
	for _, p := range problems {
		fields = append(fields, p.(map[string]any)["field"].(string))
	}
	assert.Equal(t, []string{"residency", "gift_date", "amount"}, fields)
}

func TestComputeMaxPriorGifts(t *testing.T) {
	s := newTestServer(t, testTable, WithValidator(gift.NewValidator(gift.WithMaxPriorGifts(1))))

	w, body := do(t, s, http.MethodPost, "/api/compute", `{
		"residency":"resident","relationship":"spouse","gift_date":"2025-02-10","amount":"1",
		"prior_gifts":[{"date":"2020-01-01","amount":"1"},{"date":"2021-01-01","amount":"1"}]
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))
}

func TestComputeUnsupportedCategory(t *testing.T) {
	s := newTestServer(t, testTable)

	w, body := do(t, s, http.MethodPost, "/api/compute",
		`{"residency":"non_resident","relationship":"spouse","gift_date":"2025-02-10","amount":"1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "UNSUPPORTED_CATEGORY", errorCode(t, body))
}

func TestComputeMalformedBody(t *testing.T) {
	s := newTestServer(t, testTable)

	w, body := do(t, s, http.MethodPost, "/api/compute", `{"residency": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, body))
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, testTable)

	w, _ := do(t, s, http.MethodGet, "/health", "", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w, _ = do(t, s, http.MethodGet, "/health", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestServesRegistrySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTable), 0644))

	registry, err := lawtable.NewRegistry(path)
	require.NoError(t, err)
	defer registry.Close()
	s := New(registry)

	_, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, "scenario", body["law_version"])

	updated := bytes.Replace([]byte(testTable), []byte(`version: "scenario"`), []byte(`version: "scenario-2"`), 1)
	require.NoError(t, os.WriteFile(path, updated, 0644))
	changed, err := registry.Reload()
	require.NoError(t, err)
	require.True(t, changed)

	_, body = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, "scenario-2", body["law_version"])
}
