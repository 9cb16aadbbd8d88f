package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type etageInfo struct {
	Id         uint   `json:"id"`
	Name       string `json:"name"`
	BatimentId uint   `json:"batiment_id"`
}

func TestEtageCrud(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	bat1, err := c.createBatiment("Bat 1", nil)
	require.NoError(t, err)
	bat2, err := c.createBatiment("Bat 2", nil)
	require.NoError(t, err)

	var created etageInfo
	require.NoError(t, c.Post("/etages").Json(map[string]interface{}{"name": "Etage 1", "batiment_id": bat1}).Do(&created))
	assert.Equal(t, etageInfo{Id: created.Id, Name: "Etage 1", BatimentId: bat1}, created)

	url := fmt.Sprintf("/etages/%d", created.Id)

	var updated etageInfo
	require.NoError(t, c.Put(url).Json(map[string]interface{}{"batiment_id": bat2}).Do(&updated))
	assert.Equal(t, "Etage 1", updated.Name)
	assert.Equal(t, bat2, updated.BatimentId)

	var etages []etageInfo
	require.NoError(t, c.Get("/etages").Do(&etages))
	assert.Equal(t, []etageInfo{updated}, etages)

	var msg messageResponse
	require.NoError(t, c.Delete(url).Do(&msg))
	assert.Equal(t, "Étage supprimé avec succès", msg.Message)

	err = c.Delete(url).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Étage non trouvé")
}

func TestEtageValidation(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	err := c.Post("/etages").Json(map[string]interface{}{"name": "Etage 1"}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Les champs name et batiment_id sont requis")

	err = c.Post("/etages").Json(map[string]interface{}{"batiment_id": 1}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Les champs name et batiment_id sont requis")

	err = c.Post("/etages").Json(map[string]interface{}{"name": "Etage 1", "batiment_id": 7}).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Bâtiment non trouvé")

	err = c.Get("/etages/7").Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Étage non trouvé")
}

func TestEtageDeleteIsRestricted(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	batimentId, err := c.createBatiment("Bat", nil)
	require.NoError(t, err)
	etageId, err := c.createEtage("RDC", batimentId)
	require.NoError(t, err)
	baesId, err := c.createBaes("BAES-1", etageId)
	require.NoError(t, err)

	url := fmt.Sprintf("/etages/%d", etageId)

	err = c.Delete(url).Do(nil)
	requireStatus(t, err, http.StatusConflict, "Impossible de supprimer l'étage: des BAES y sont rattachés")

	var baes []baesInfo
	require.NoError(t, c.Get(url+"/baes").Do(&baes))
	require.Len(t, baes, 1)
	assert.Equal(t, baesId, baes[0].Id)

	require.NoError(t, c.Delete(fmt.Sprintf("/baes/%d", baesId)).Do(nil))

	upload, err := c.uploadCarteToEtage(etageId, []byte("floor plan"))
	require.NoError(t, err)

	err = c.Delete(url).Do(nil)
	requireStatus(t, err, http.StatusConflict, "Impossible de supprimer l'étage: une carte y est assignée")

	require.NoError(t, c.Delete(fmt.Sprintf("/cartes/%d", upload.Id)).Do(nil))
	require.NoError(t, c.Delete(url).Do(nil))
}
