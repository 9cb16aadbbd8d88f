package tests

import (
	"fmt"
	"net/http"
	"testing"

	"baes_platform/baes_manager/auth"
	"baes_platform/baes_manager/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userInfo struct {
	Id    uint     `json:"id"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
}

type userListInfo struct {
	Id    uint       `json:"id"`
	Login string     `json:"login"`
	Roles []string   `json:"roles"`
	Sites []siteInfo `json:"sites"`
}

func createRoles(t *testing.T, c client, names ...string) []uint {
	t.Helper()

	ids := make([]uint, 0, len(names))
	for _, name := range names {
		id, err := c.createRole(name)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestUserCrud(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	createRoles(t, c, "user", "technicien", "admin")

	var created userInfo
	err := c.Post("/users").Json(map[string]interface{}{
		"login":    "alice",
		"password": "alice_password",
		"roles":    []string{"user", "technicien"},
	}).Do(&created)
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Login)
	assert.ElementsMatch(t, []string{"user", "technicien"}, created.Roles)

	var stored schema.User
	require.NoError(t, env.db.First(&stored, created.Id).Error)
	assert.NotEqual(t, "alice_password", string(stored.Password))
	assert.NoError(t, auth.CheckPassword(stored.Password, "alice_password"))

	url := fmt.Sprintf("/users/%d", created.Id)

	var updated userInfo
	require.NoError(t, c.Put(url).Json(map[string]interface{}{"roles": []string{"admin"}}).Do(&updated))
	assert.Equal(t, "alice", updated.Login)
	assert.Equal(t, []string{"admin"}, updated.Roles)

	require.NoError(t, c.Put(url).Json(map[string]interface{}{"login": "alice2", "password": "new_password"}).Do(&updated))
	assert.Equal(t, "alice2", updated.Login)
	assert.Equal(t, []string{"admin"}, updated.Roles, "roles are untouched when omitted")

	require.NoError(t, env.db.First(&stored, created.Id).Error)
	assert.NoError(t, auth.CheckPassword(stored.Password, "new_password"))
	assert.ErrorIs(t, auth.CheckPassword(stored.Password, "alice_password"), auth.ErrInvalidCredentials)

	require.NoError(t, c.Put(url).Json(map[string]interface{}{"roles": []string{}}).Do(&updated))
	assert.Empty(t, updated.Roles)

	var fetched userInfo
	require.NoError(t, c.Get(url).Do(&fetched))
	assert.Equal(t, updated.Login, fetched.Login)

	var msg messageResponse
	require.NoError(t, c.Delete(url).Do(&msg))
	assert.Equal(t, "Utilisateur supprimé avec succès", msg.Message)

	err = c.Get(url).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Utilisateur non trouvé")

	err = c.Delete("/users/99").Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Utilisateur non trouvé")

	// Roles outlive the users holding them.
	var roles []roleInfo
	require.NoError(t, c.Get("/roles").Do(&roles))
	assert.Len(t, roles, 3)
}

func TestUserValidation(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	err := c.Post("/users").Json(map[string]string{"login": "alice"}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Les champs login et password sont requis")

	err = c.Post("/users").Json(map[string]string{"password": "secret"}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Les champs login et password sont requis")

	userId, err := c.createUser("alice", "secret", nil)
	require.NoError(t, err)

	_, err = c.createUser("alice", "other", nil)
	requireStatus(t, err, http.StatusConflict, "Un utilisateur avec ce login existe déjà")

	err = c.Put(fmt.Sprintf("/users/%d", userId)).Json(map[string]string{"password": ""}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Le champ password ne peut pas être vide")
}

func TestUserUnknownRolesAreIgnored(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	createRoles(t, c, "user")

	var created userInfo
	err := c.Post("/users").Json(map[string]interface{}{
		"login":    "bob",
		"password": "bob_password",
		"roles":    []string{"user", "pilote"},
	}).Do(&created)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, created.Roles)

	var roles []roleInfo
	require.NoError(t, c.Get("/roles").Do(&roles))
	assert.Len(t, roles, 1, "unknown role names are not created")
}

func TestUserSites(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	userId, err := c.createUser("alice", "secret", nil)
	require.NoError(t, err)
	siteA, err := c.createSite("Site A")
	require.NoError(t, err)
	siteB, err := c.createSite("Site B")
	require.NoError(t, err)

	url := fmt.Sprintf("/users/%d/sites", userId)

	var msg messageResponse
	require.NoError(t, c.Post(url).Json(map[string]uint{"site_id": siteA}).Do(&msg))
	assert.Equal(t, "Site ajouté à l'utilisateur.", msg.Message)

	require.NoError(t, c.Post(url).Json(map[string]uint{"site_id": siteA}).Do(&msg))
	assert.Equal(t, "Site déjà associé à l'utilisateur.", msg.Message)

	require.NoError(t, c.Post(url).Json(map[string]uint{"site_id": siteB}).Do(&msg))

	err = c.Post(url).Json(map[string]string{}).Do(nil)
	requireStatus(t, err, http.StatusBadRequest, "Le champ 'site_id' est requis")

	err = c.Post(url).Json(map[string]uint{"site_id": siteB + 10}).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Site non trouvé")

	var sites []siteInfo
	require.NoError(t, c.Get(url).Do(&sites))
	require.Len(t, sites, 2)
	assert.Equal(t, "Site A", sites[0].Name)
	assert.Equal(t, "Site B", sites[1].Name)

	var users []userListInfo
	require.NoError(t, c.Get("/users").Do(&users))
	require.Len(t, users, 1)
	assert.Len(t, users[0].Sites, 2)
	assert.Empty(t, users[0].Roles)

	require.NoError(t, c.Delete(fmt.Sprintf("%s/%d", url, siteA)).Do(&msg))
	assert.Equal(t, "Site dissocié de l'utilisateur.", msg.Message)

	err = c.Delete(fmt.Sprintf("%s/%d", url, siteA)).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Site non trouvé ou non associé à l'utilisateur")

	require.NoError(t, c.Get(url).Do(&sites))
	require.Len(t, sites, 1)
	assert.Equal(t, siteB, sites[0].Id)

	// Deleting the user only drops the association.
	require.NoError(t, c.Delete(fmt.Sprintf("/users/%d", userId)).Do(nil))
	require.NoError(t, c.Get(fmt.Sprintf("/sites/%d", siteB)).Do(nil))

	err = c.Get(url).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Utilisateur non trouvé")
}

func TestUserRoles(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	roleIds := createRoles(t, c, "user", "admin")

	userId, err := c.createUser("alice", "secret", []string{"user"})
	require.NoError(t, err)

	url := fmt.Sprintf("/users/%d/roles", userId)

	var msg messageResponse
	require.NoError(t, c.Post(url).Json(map[string]uint{"role_id": roleIds[1]}).Do(&msg))
	assert.Equal(t, "Rôle ajouté à l'utilisateur.", msg.Message)

	require.NoError(t, c.Post(url).Json(map[string]uint{"role_id": roleIds[0]}).Do(&msg))
	assert.Equal(t, "Rôle déjà associé à l'utilisateur.", msg.Message)

	err = c.Post(url).Json(map[string]uint{"role_id": 42}).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Rôle non trouvé")

	var roles []roleInfo
	require.NoError(t, c.Get(url).Do(&roles))
	assert.Equal(t, []roleInfo{{Id: roleIds[0], Name: "user"}, {Id: roleIds[1], Name: "admin"}}, roles)

	require.NoError(t, c.Delete(fmt.Sprintf("%s/%d", url, roleIds[0])).Do(&msg))
	assert.Equal(t, "Rôle dissocié de l'utilisateur.", msg.Message)

	err = c.Delete(fmt.Sprintf("%s/%d", url, roleIds[0])).Do(nil)
	requireStatus(t, err, http.StatusNotFound, "Rôle non trouvé ou non associé à l'utilisateur")

	var user userInfo
	require.NoError(t, c.Get(fmt.Sprintf("/users/%d", userId)).Do(&user))
	assert.Equal(t, []string{"admin"}, user.Roles)
}
