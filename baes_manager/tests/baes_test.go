package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type baesInfo struct {
	Id       uint            `json:"id"`
	Name     string          `json:"name"`
	Position json.RawMessage `json:"position"`
	EtageId  uint            `json:"etage_id"`
}

func setupEtage(t *testing.T, c client) uint {
	t.Helper()

	batimentId, err := c.createBatiment("Bat", nil)
	require.NoError(t, err)
	etageId, err := c.createEtage("RDC", batimentId)
	require.NoError(t, err)
	return etageId
}

func TestBaesCrud(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	etageId := setupEtage(t, c)

	var created baesInfo
	err := c.Post("/baes").Json(map[string]interface{}{
		"name":     "BAES-01",
		"position": map[string]interface{}{"x": 10, "y": 20, "lat": 48.85, "lng": 2.35},
		"etage_id": etageId,
	}).Do(&created)
	require.NoError(t, err)
	assert.Equal(t, "BAES-01", created.Name)
	assert.Equal(t, etageId, created.EtageId)
	assert.JSONEq(t, `{"x":10,"y":20,"lat":48.85,"lng":2.35}`, string(created.Position))

	url := fmt.Sprintf("/baes/%d", created.Id)

	var fetched baesInfo
	require.NoError(t, c.Get(url).Do(&fetched))
	assert.JSONEq(t, string(created.Position), string(fetched.Position))

	var updated baesInfo
	require.NoError(t, c.Put(url).Json(map[string]interface{}{"position": []float64{3, 4}}).Do(&updated))
	assert.JSONEq(t, `[3,4]`, string(updated.Position))
	assert.Equal(t, "BAES-01", updated.Name)

	var baes []baesInfo
	require.NoError(t, c.Get("/baes").Do(&baes))
	require.Len(t, baes, 1)

	var msg messageResponse
	require.NoError(t, c.Delete(url).Do(&msg))
	assert.Equal(t, "BAES supprimé avec succès", msg.Message)

	err = c.Get(url).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "BAES non trouvé")
}

func TestBaesValidation(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	etageId := setupEtage(t, c)

	err := c.Post("/baes").Json(map[string]interface{}{"name": "BAES-01", "etage_id": etageId}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Les champs name, position et etage_id sont requis")

	err = c.Post("/baes").Json(map[string]interface{}{"name": "BAES-01", "position": "nord", "etage_id": etageId}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Le champ position doit être un objet ou une liste de coordonnées")

	err = c.Post("/baes").Json(map[string]interface{}{"name": "BAES-01", "position": []int{1, 2}, "etage_id": etageId + 10}).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Étage non trouvé")

	_, err = c.createBaes("BAES-01", etageId)
	require.NoError(t, err)

	_, err = c.createBaes("BAES-01", etageId)
	requireStatus(t, err, http.StatusConflict, "Un BAES avec ce nom existe déjà")

	otherId, err := c.createBaes("BAES-02", etageId)
	require.NoError(t, err)

	err = c.Put(fmt.Sprintf("/baes/%d", otherId)).Json(map[string]string{"name": "BAES-01"}).Do(nil)
	requireStatus(t, err, http.StatusConflict, "Un BAES avec ce nom existe déjà")
}

func TestBaesDeleteIsRestricted(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	etageId := setupEtage(t, c)
	baesId, err := c.createBaes("BAES-01", etageId)
	require.NoError(t, err)

	var erreur erreurInfo
	err = c.Post("/erreurs").Json(map[string]interface{}{"baes_id": baesId, "type_erreur": "erreur_batterie"}).Do(&erreur)
	require.NoError(t, err)

	url := fmt.Sprintf("/baes/%d", baesId)

	err = c.Delete(url).Do(nil)
	requireStatus(t, err, http.StatusConflict, "Impossible de supprimer le BAES: un historique d'erreurs y est rattaché")

	var erreurs []erreurInfo
	require.NoError(t, c.Get(url+"/erreurs").Do(&erreurs))
	require.Len(t, erreurs, 1)
	assert.Equal(t, erreur.Id, erreurs[0].Id)

	require.NoError(t, c.Delete(fmt.Sprintf("/erreurs/%d", erreur.Id)).Do(nil))
	require.NoError(t, c.Delete(url).Do(nil))
}
