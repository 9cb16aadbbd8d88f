package services

import (
	"log/slog"
	"net/http"

	"baes_platform/baes_manager/schema"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type RoleService struct {
	db *gorm.DB
}

func (s *RoleService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{role_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)
	})

	return r
}

type RoleInfo struct {
	Id   uint   `json:"id"`
	Name string `json:"name"`
}

func convertToRoleInfos(roles []schema.Role) []RoleInfo {
	infos := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		infos = append(infos, RoleInfo{Id: role.Id, Name: role.Name})
	}
	return infos
}

const duplicateRoleMsg = "Un rôle avec ce nom existe déjà"

func (s *RoleService) List(w http.ResponseWriter, r *http.Request) {
	roles, err := listAll[schema.Role](s.db.WithContext(r.Context()), "roles")
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToRoleInfos(roles))
}

func (s *RoleService) Get(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUint(r, "role_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	role, err := schema.GetRole(roleId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, RoleInfo{Id: role.Id, Name: role.Name})
}

type roleRequest struct {
	Name *string `json:"name"`
}

func (s *RoleService) Create(w http.ResponseWriter, r *http.Request) {
	var params roleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := requireName(params.Name, "Le champ name est requis", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	role := schema.Role{Name: name}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		result := txn.Create(&role)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating role", duplicateRoleMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("created role", "role_id", role.Id, "name", role.Name)

	utils.WriteCreated(w, RoleInfo{Id: role.Id, Name: role.Name})
}

func (s *RoleService) Update(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUint(r, "role_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params roleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := optionalName(params.Name, "name", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	var role schema.Role
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		role, err = schema.GetRole(roleId, txn)
		if err != nil {
			return lookupError(err)
		}

		if name == nil {
			return nil
		}

		result := txn.Model(&role).Updates(map[string]interface{}{"name": *name})
		if result.Error != nil {
			return writeQueryError(result.Error, "updating role", duplicateRoleMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, RoleInfo{Id: role.Id, Name: role.Name})
}

func (s *RoleService) Delete(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUint(r, "role_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		role, err := schema.GetRole(roleId, txn)
		if err != nil {
			return lookupError(err)
		}

		result := txn.Exec("DELETE FROM user_roles WHERE role_id = ?", roleId)
		if result.Error != nil {
			slog.Error("sql error removing role from users", "role_id", roleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return deleteRow(txn, &role, "roles")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("deleted role", "role_id", roleId)

	utils.WriteMessage(w, "Rôle supprimé avec succès")
}
