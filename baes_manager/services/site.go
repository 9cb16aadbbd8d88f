package services

import (
	"log/slog"
	"net/http"

	"baes_platform/baes_manager/schema"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type SiteService struct {
	db *gorm.DB
}

func (s *SiteService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{site_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/assign", s.AssignCarte)
		r.Get("/batiments", s.Batiments)
		r.Get("/carte", s.Carte)
	})

	return r
}

type SiteInfo struct {
	Id   uint   `json:"id"`
	Name string `json:"name"`
}

func convertToSiteInfo(site schema.Site) SiteInfo {
	return SiteInfo{Id: site.Id, Name: site.Name}
}

func convertToSiteInfos(sites []schema.Site) []SiteInfo {
	infos := make([]SiteInfo, 0, len(sites))
	for _, site := range sites {
		infos = append(infos, convertToSiteInfo(site))
	}
	return infos
}

const duplicateSiteMsg = "Un site avec ce nom existe déjà"

func (s *SiteService) List(w http.ResponseWriter, r *http.Request) {
	sites, err := listAll[schema.Site](s.db.WithContext(r.Context()), "sites")
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToSiteInfos(sites))
}

func (s *SiteService) Get(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	site, err := schema.GetSite(siteId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToSiteInfo(site))
}

type siteRequest struct {
	Name *string `json:"name"`
}

func (s *SiteService) Create(w http.ResponseWriter, r *http.Request) {
	var params siteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := requireName(params.Name, "Le champ name est requis", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	site := schema.Site{Name: name}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		result := txn.Create(&site)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating site", duplicateSiteMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("created site", "site_id", site.Id, "name", site.Name)

	utils.WriteCreated(w, convertToSiteInfo(site))
}

func (s *SiteService) Update(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params siteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := optionalName(params.Name, "name", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	var site schema.Site
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		site, err = schema.GetSite(siteId, txn)
		if err != nil {
			return lookupError(err)
		}

		if name == nil {
			return nil
		}

		result := txn.Model(&site).Updates(map[string]interface{}{"name": *name})
		if result.Error != nil {
			return writeQueryError(result.Error, "updating site", duplicateSiteMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToSiteInfo(site))
}

func (s *SiteService) Delete(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		site, err := schema.GetSite(siteId, txn)
		if err != nil {
			return lookupError(err)
		}

		if err := checkNoChildren(txn, &schema.Batiment{}, "Impossible de supprimer le site: des bâtiments y sont rattachés", "site_id = ?", siteId); err != nil {
			return err
		}
		if err := checkNoChildren(txn, &schema.Carte{}, "Impossible de supprimer le site: une carte y est assignée", "site_id = ?", siteId); err != nil {
			return err
		}

		result := txn.Exec("DELETE FROM user_sites WHERE site_id = ?", siteId)
		if result.Error != nil {
			slog.Error("sql error removing site from users", "site_id", siteId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return deleteRow(txn, &site, "sites")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("deleted site", "site_id", siteId)

	utils.WriteMessage(w, "Site supprimé avec succès")
}

type assignCarteRequest struct {
	CardId *uint `json:"card_id"`
}

func (s *SiteService) AssignCarte(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Existence is checked first so an unknown site is a 404 even with a bad body.
	if err := checkSiteExists(s.db.WithContext(r.Context()), siteId); err != nil {
		writeError(w, err)
		return
	}

	var params assignCarteRequest
	if err := decodeAssignRequest(r, &params); err != nil {
		writeError(w, err)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkSiteExists(txn, siteId); err != nil {
			return err
		}
		return assignCarte(txn, *params.CardId, siteTarget(siteId))
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, "Carte assignée au site avec succès.")
}

func (s *SiteService) Batiments(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var batiments []schema.Batiment
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkSiteExists(txn, siteId); err != nil {
			return err
		}

		batiments, err = listAll[schema.Batiment](txn, "batiments", "site_id = ?", siteId)
		return err
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToBatimentInfos(batiments))
}

func (s *SiteService) Carte(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUint(r, "site_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var carte schema.Carte
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkSiteExists(txn, siteId); err != nil {
			return err
		}

		carte, err = findAssignedCarte(txn, siteTarget(siteId))
		return err
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToCarteInfo(carte))
}
