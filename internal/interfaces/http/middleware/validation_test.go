package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/meterly/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationRouter() *gin.Engine {
	SetupValidator()

	router := gin.New()
	router.POST("/credits/:type/consume", func(c *gin.Context) {
		var uri dto.CreditTypeURI
		if err := c.ShouldBindUri(&uri); err != nil {
			HandleValidationError(c, err)
			return
		}
		var req dto.ConsumeCreditsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{"amount": req.Amount}))
	})
	return router
}

func TestValidation(t *testing.T) {
	router := validationRouter()

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{"valid request", "/credits/lookup/consume", `{"amount": 5}`, http.StatusOK, "", ""},
		{"uppercase type is accepted", "/credits/AI/consume", `{"amount": 5}`, http.StatusOK, "", ""},
		{"missing amount", "/credits/lookup/consume", `{}`, http.StatusBadRequest, dto.ErrCodeValidation, "amount"},
		{"zero amount", "/credits/lookup/consume", `{"amount": 0}`, http.StatusBadRequest, dto.ErrCodeValidation, "amount"},
		{"negative amount", "/credits/lookup/consume", `{"amount": -3}`, http.StatusBadRequest, dto.ErrCodeValidation, "amount"},
		{"bad credit type", "/credits/no%20spaces!/consume", `{"amount": 1}`, http.StatusBadRequest, dto.ErrCodeValidation, "type"},
		{"malformed json", "/credits/lookup/consume", `{"amount":`, http.StatusBadRequest, dto.ErrCodeInvalidJSON, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode == "" {
				return
			}

			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			if tt.wantField != "" {
				require.NotEmpty(t, resp.Error.Details)
				assert.Equal(t, tt.wantField, resp.Error.Details[0].Field)
			}
		})
	}
}
