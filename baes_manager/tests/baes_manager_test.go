package tests

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	require.NoError(t, c.Get("/health").Do(nil))

	_, err := c.createSite("Site A")
	require.NoError(t, err)

	w := c.Get("/metrics").Send()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "baes_manager_request")
	assert.Contains(t, w.Body.String(), `route="/sites`)
}

func TestUnknownRoutes(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	err := c.Get("/batiment").Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Ressource non trouvée")

	err = c.Put("/sites").Json(map[string]string{"name": "Site A"}).Do(nil)
	requireStatus(t, err, http.StatusMethodNotAllowed, "Méthode non autorisée")

	err = c.Get("/sites/abc").Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "invalid id 'abc' provided for {site_id}")

	err = c.Post("/sites").Body(strings.NewReader("{")).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "")
}

type auditEntry struct {
	Method     string            `json:"method"`
	Url        string            `json:"url"`
	Status     int               `json:"status"`
	PathParams map[string]string `json:"path_params"`
}

func readAudit(t *testing.T, env *testEnv) []auditEntry {
	t.Helper()

	entries := make([]auditEntry, 0)
	scanner := bufio.NewScanner(strings.NewReader(env.audit.String()))
	for scanner.Scan() {
		var entry auditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestAuditLog(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	siteId, err := c.createSite("Site A")
	require.NoError(t, err)

	require.NoError(t, c.Get("/sites").Do(nil))
	require.NoError(t, c.Get(fmt.Sprintf("/sites/%d", siteId)).Do(nil))

	err = c.Delete("/sites/99").Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Site non trouvé")

	entries := readAudit(t, env)
	require.Len(t, entries, 2, "reads are not audited")

	assert.Equal(t, "POST", entries[0].Method)
	assert.Equal(t, "/sites", entries[0].Url)
	assert.Equal(t, http.StatusCreated, entries[0].Status)

	assert.Equal(t, "DELETE", entries[1].Method)
	assert.Equal(t, http.StatusNotFound, entries[1].Status)
	assert.Equal(t, "99", entries[1].PathParams["site_id"])
}
