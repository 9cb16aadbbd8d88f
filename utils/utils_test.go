package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullable(t *testing.T) {
	var body struct {
		SiteId Nullable[uint]   `json:"site_id"`
		Name   Nullable[string] `json:"name"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"site_id": null}`), &body))
	assert.True(t, body.SiteId.Set)
	assert.Nil(t, body.SiteId.Value)
	assert.False(t, body.Name.Set)

	require.NoError(t, json.Unmarshal([]byte(`{"site_id": 3, "name": "Site A"}`), &body))
	require.NotNil(t, body.SiteId.Value)
	assert.Equal(t, uint(3), *body.SiteId.Value)
	assert.Equal(t, "Site A", *body.Name.Value)

	assert.Error(t, json.Unmarshal([]byte(`{"site_id": "abc"}`), &body))
}

func TestURLParamUint(t *testing.T) {
	var got uint
	var gotErr error

	r := chi.NewRouter()
	r.Get("/sites/{site_id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = URLParamUint(r, "site_id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sites/12", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, uint(12), got)

	for _, bad := range []string{"0", "-1", "abc"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sites/"+bad, nil))
		assert.Error(t, gotErr, bad)
	}
}

func TestWriteJsonError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJsonError(w, "Site non trouvé", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": "Site non trouvé"}`, w.Body.String())
}
