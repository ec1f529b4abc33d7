package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name string `json:"name" validate:"required"`
}

func TestBindValidation(t *testing.T) {
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	var ok sampleRequest
	require.NoError(t, Bind(req, v, &ok))
	assert.Equal(t, "ok", ok.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	var missing sampleRequest
	err := Bind(req, v, &missing)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Name failed on required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.ErrorIs(t, Bind(req, v, &missing), ErrValidation)
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	var got int64
	var gotErr error
	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = IDParam(r, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/15", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, int64(15), got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abc", nil))
	assert.ErrorIs(t, gotErr, ErrValidation)
}

func TestRespondErrorConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, ErrConflict)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	assert.Equal(t, "Conflict", problem.Title)
	assert.Equal(t, http.StatusConflict, problem.Status)
}

func TestProblemWritesProblemJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusConflict, "Conflict", "node has children")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"about:blank","title":"Conflict","status":409,"detail":"node has children"}`, rec.Body.String())
}
