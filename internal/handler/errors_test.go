package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"contractsvc/internal/service/contract"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		&contract.Error{Kind: contract.KindNotFound}:  http.StatusNotFound,
		&contract.Error{Kind: contract.KindInvalid}:   http.StatusBadRequest,
		&contract.Error{Kind: contract.KindForbidden}: http.StatusForbidden,
		&contract.Error{Kind: contract.KindConflict}:  http.StatusConflict,
		&contract.Error{Kind: contract.KindInternal}:  http.StatusInternalServerError,
		errors.New("boom"):                            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), "%v", err)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, zap.NewNop(), &contract.Error{Kind: contract.KindInternal, Msg: "pg: connection reset"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestParseDate(t *testing.T) {
	d := "2025-03-14"
	got, err := parseDate(&d)
	assert.NoError(t, err)
	assert.Equal(t, 14, got.Day())

	ts := "2025-03-14T10:00:00Z"
	got, err = parseDate(&ts)
	assert.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	empty := ""
	got, err = parseDate(&empty)
	assert.NoError(t, err)
	assert.Nil(t, got)

	bad := "tomorrow"
	_, err = parseDate(&bad)
	assert.Error(t, err)
}
