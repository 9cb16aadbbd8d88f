package services

import (
	"errors"
	"log/slog"
	"net/http"

	"baes_platform/baes_manager/auth"
	"baes_platform/baes_manager/schema"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{user_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/sites", s.Sites)
		r.Post("/sites", s.AddSite)
		r.Delete("/sites/{site_id}", s.RemoveSite)

		r.Get("/roles", s.Roles)
		r.Post("/roles", s.AddRole)
		r.Delete("/roles/{role_id}", s.RemoveRole)
	})

	return r
}

type UserInfo struct {
	Id    uint     `json:"id"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
}

type UserListInfo struct {
	Id    uint       `json:"id"`
	Login string     `json:"login"`
	Roles []string   `json:"roles"`
	Sites []SiteInfo `json:"sites"`
}

func convertToUserInfo(user schema.User) UserInfo {
	return UserInfo{Id: user.Id, Login: user.Login, Roles: user.RoleNames()}
}

const duplicateLoginMsg = "Un utilisateur avec ce login existe déjà"

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	users, err := schema.ListUsers(s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	infos := make([]UserListInfo, 0, len(users))
	for _, user := range users {
		infos = append(infos, UserListInfo{
			Id:    user.Id,
			Login: user.Login,
			Roles: user.RoleNames(),
			Sites: convertToSiteInfos(user.Sites),
		})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *UserService) Get(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := schema.GetUser(userId, s.db.WithContext(r.Context()), true, false)
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(user))
}

type userRequest struct {
	Login    *string   `json:"login"`
	Password *string   `json:"password"`
	Roles    *[]string `json:"roles"`
}

// resolveRoles maps role names onto existing roles, unknown names are ignored.
func resolveRoles(txn *gorm.DB, names []string) ([]schema.Role, error) {
	roles, err := schema.GetRolesByName(names, txn)
	if err != nil {
		return nil, CodedError(err, http.StatusInternalServerError)
	}
	if len(roles) != len(names) {
		slog.Info("ignoring unknown role names", "requested", names, "found", len(roles))
	}
	return roles, nil
}

func (s *UserService) Create(w http.ResponseWriter, r *http.Request) {
	var params userRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	const missing = "Les champs login et password sont requis"
	if params.Password == nil || *params.Password == "" {
		utils.WriteJsonError(w, missing, http.StatusBadRequest)
		return
	}
	login, err := requireName(params.Login, missing, maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	hashed, err := auth.HashPassword(*params.Password)
	if err != nil {
		slog.Error("error hashing password for new user", "error", err)
		writeError(w, CodedError(errors.New("Erreur lors du chiffrement du mot de passe"), http.StatusInternalServerError))
		return
	}

	user := schema.User{Login: login, Password: hashed}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if params.Roles != nil {
			user.Roles, err = resolveRoles(txn, *params.Roles)
			if err != nil {
				return err
			}
		}

		result := txn.Omit("Roles.*").Create(&user)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating user", duplicateLoginMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("created user", "user_id", user.Id, "login", user.Login, "roles", user.RoleNames())

	utils.WriteCreated(w, convertToUserInfo(user))
}

func (s *UserService) Update(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params userRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	login, err := optionalName(params.Login, "login", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	updates := map[string]interface{}{}
	if login != nil {
		updates["login"] = *login
	}
	if params.Password != nil {
		hashed, err := auth.HashPassword(*params.Password)
		if err != nil {
			if errors.Is(err, auth.ErrEmptyPassword) {
				utils.WriteJsonError(w, "Le champ password ne peut pas être vide", http.StatusBadRequest)
				return
			}
			slog.Error("error hashing password for user update", "user_id", userId, "error", err)
			writeError(w, CodedError(errors.New("Erreur lors du chiffrement du mot de passe"), http.StatusInternalServerError))
			return
		}
		updates["password"] = hashed
	}

	var user schema.User
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		user, err = schema.GetUser(userId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}

		if len(updates) > 0 {
			result := txn.Model(&user).Updates(updates)
			if result.Error != nil {
				return writeQueryError(result.Error, "updating user", duplicateLoginMsg)
			}
		}

		if params.Roles != nil {
			roles, err := resolveRoles(txn, *params.Roles)
			if err != nil {
				return err
			}
			if err := replaceRoles(txn, &user, roles); err != nil {
				return err
			}
		}

		user, err = schema.GetUser(userId, txn, true, false)
		if err != nil {
			return lookupError(err)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(user))
}

func replaceRoles(txn *gorm.DB, user *schema.User, roles []schema.Role) error {
	var err error
	if len(roles) == 0 {
		err = txn.Model(user).Association("Roles").Clear()
	} else {
		err = txn.Model(user).Association("Roles").Replace(roles)
	}
	if err != nil {
		slog.Error("sql error replacing user roles", "user_id", user.Id, "error", err)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func (s *UserService) Delete(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}

		// Selecting the associations removes the join rows, never the roles or sites.
		result := txn.Select("Roles", "Sites").Delete(&user)
		if result.Error != nil {
			slog.Error("sql error deleting user", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("deleted user", "user_id", userId)

	utils.WriteMessage(w, "Utilisateur supprimé avec succès")
}

func countEdges(txn *gorm.DB, table, column string, userId, otherId uint) (int64, error) {
	var count int64
	result := txn.Table(table).Where("user_id = ? AND "+column+" = ?", userId, otherId).Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking user association", "table", table, "user_id", userId, column, otherId, "error", result.Error)
		return 0, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return count, nil
}

func removeEdge(txn *gorm.DB, table, column string, userId, otherId uint, notAssociated string) error {
	result := txn.Exec("DELETE FROM "+table+" WHERE user_id = ? AND "+column+" = ?", userId, otherId)
	if result.Error != nil {
		slog.Error("sql error removing user association", "table", table, "user_id", userId, column, otherId, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		return CodedError(errors.New(notAssociated), http.StatusNotFound)
	}
	return nil
}

func (s *UserService) Sites(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := schema.GetUser(userId, s.db.WithContext(r.Context()), false, true)
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToSiteInfos(user.Sites))
}

type addSiteRequest struct {
	SiteId *uint `json:"site_id"`
}

func (s *UserService) AddSite(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addSiteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.SiteId == nil {
		utils.WriteJsonError(w, "Le champ 'site_id' est requis", http.StatusBadRequest)
		return
	}

	message := "Site ajouté à l'utilisateur."
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		site, err := schema.GetSite(*params.SiteId, txn)
		if err != nil {
			return lookupError(err)
		}

		count, err := countEdges(txn, "user_sites", "site_id", userId, site.Id)
		if err != nil {
			return err
		}
		if count != 0 {
			message = "Site déjà associé à l'utilisateur."
			return nil
		}

		if err := txn.Model(&user).Association("Sites").Append(&site); err != nil {
			slog.Error("sql error adding site to user", "user_id", userId, "site_id", site.Id, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, message)
}

func (s *UserService) RemoveSite(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}
		return removeEdge(txn, "user_sites", "site_id", userId, siteId, "Site non trouvé ou non associé à l'utilisateur")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, "Site dissocié de l'utilisateur.")
}

func (s *UserService) Roles(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := schema.GetUser(userId, s.db.WithContext(r.Context()), true, false)
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToRoleInfos(user.Roles))
}

type addRoleRequest struct {
	RoleId *uint `json:"role_id"`
}

func (s *UserService) AddRole(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.RoleId == nil {
		utils.WriteJsonError(w, "Le champ 'role_id' est requis", http.StatusBadRequest)
		return
	}

	message := "Rôle ajouté à l'utilisateur."
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		role, err := schema.GetRole(*params.RoleId, txn)
		if err != nil {
			return lookupError(err)
		}

		count, err := countEdges(txn, "user_roles", "role_id", userId, role.Id)
		if err != nil {
			return err
		}
		if count != 0 {
			message = "Rôle déjà associé à l'utilisateur."
			return nil
		}

		if err := txn.Model(&user).Association("Roles").Append(&role); err != nil {
			slog.Error("sql error adding role to user", "user_id", userId, "role_id", role.Id, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, message)
}

func (s *UserService) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUint(r, "user_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	roleId, err := utils.URLParamUint(r, "role_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}
		return removeEdge(txn, "user_roles", "role_id", userId, roleId, "Rôle non trouvé ou non associé à l'utilisateur")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, "Rôle dissocié de l'utilisateur.")
}
