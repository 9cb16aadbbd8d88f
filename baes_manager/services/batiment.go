package services

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"baes_platform/baes_manager/schema"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BatimentService struct {
	db *gorm.DB
}

func (s *BatimentService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{batiment_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/etages", s.Etages)
	})

	return r
}

type BatimentInfo struct {
	Id            uint           `json:"id"`
	Name          string         `json:"name"`
	PolygonPoints datatypes.JSON `json:"polygon_points"`
	SiteId        *uint          `json:"site_id"`
}

func convertToBatimentInfo(batiment schema.Batiment) BatimentInfo {
	return BatimentInfo{
		Id:            batiment.Id,
		Name:          batiment.Name,
		PolygonPoints: batiment.PolygonPoints,
		SiteId:        batiment.SiteId,
	}
}

func convertToBatimentInfos(batiments []schema.Batiment) []BatimentInfo {
	infos := make([]BatimentInfo, 0, len(batiments))
	for _, batiment := range batiments {
		infos = append(infos, convertToBatimentInfo(batiment))
	}
	return infos
}

func (s *BatimentService) List(w http.ResponseWriter, r *http.Request) {
	batiments, err := listAll[schema.Batiment](s.db.WithContext(r.Context()), "batiments")
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToBatimentInfos(batiments))
}

func (s *BatimentService) Get(w http.ResponseWriter, r *http.Request) {
	batimentId, err := utils.URLParamUint(r, "batiment_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	batiment, err := schema.GetBatiment(batimentId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToBatimentInfo(batiment))
}

type batimentRequest struct {
	Name          *string                         `json:"name"`
	PolygonPoints utils.Nullable[json.RawMessage] `json:"polygon_points"`
	SiteId        utils.Nullable[uint]            `json:"site_id"`
}

func (p *batimentRequest) validatePolygon() error {
	if p.PolygonPoints.Value == nil {
		return nil
	}
	return jsonList(*p.PolygonPoints.Value, "polygon_points")
}

func (p *batimentRequest) polygon() datatypes.JSON {
	if p.PolygonPoints.Value == nil {
		return nil
	}
	return datatypes.JSON(*p.PolygonPoints.Value)
}

func (s *BatimentService) Create(w http.ResponseWriter, r *http.Request) {
	var params batimentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := requireName(params.Name, "Le champ name est requis", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := params.validatePolygon(); err != nil {
		writeError(w, err)
		return
	}

	batiment := schema.Batiment{
		Name:          name,
		PolygonPoints: params.polygon(),
		SiteId:        params.SiteId.Value,
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if batiment.SiteId != nil {
			if err := checkSiteExists(txn, *batiment.SiteId); err != nil {
				return err
			}
		}

		result := txn.Create(&batiment)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating batiment", "Ce bâtiment existe déjà")
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("created batiment", "batiment_id", batiment.Id, "name", batiment.Name)

	utils.WriteCreated(w, convertToBatimentInfo(batiment))
}

func (s *BatimentService) Update(w http.ResponseWriter, r *http.Request) {
	batimentId, err := utils.URLParamUint(r, "batiment_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params batimentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := optionalName(params.Name, "name", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := params.validatePolygon(); err != nil {
		writeError(w, err)
		return
	}

	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if params.PolygonPoints.Set {
		updates["polygon_points"] = params.polygon()
	}
	if params.SiteId.Set {
		updates["site_id"] = params.SiteId.Value
	}

	var batiment schema.Batiment
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		batiment, err = schema.GetBatiment(batimentId, txn)
		if err != nil {
			return lookupError(err)
		}

		if params.SiteId.Value != nil {
			if err := checkSiteExists(txn, *params.SiteId.Value); err != nil {
				return err
			}
		}

		if len(updates) == 0 {
			return nil
		}

		result := txn.Model(&batiment).Updates(updates)
		if result.Error != nil {
			return writeQueryError(result.Error, "updating batiment", "Ce bâtiment existe déjà")
		}

		// Updates with a map does not write back nulls into the struct.
		batiment, err = schema.GetBatiment(batimentId, txn)
		if err != nil {
			return lookupError(err)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToBatimentInfo(batiment))
}

func (s *BatimentService) Delete(w http.ResponseWriter, r *http.Request) {
	batimentId, err := utils.URLParamUint(r, "batiment_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		batiment, err := schema.GetBatiment(batimentId, txn)
		if err != nil {
			return lookupError(err)
		}

		if err := checkNoChildren(txn, &schema.Etage{}, "Impossible de supprimer le bâtiment: des étages y sont rattachés", "batiment_id = ?", batimentId); err != nil {
			return err
		}

		return deleteRow(txn, &batiment, "batiments")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("deleted batiment", "batiment_id", batimentId)

	utils.WriteMessage(w, "Bâtiment supprimé avec succès")
}

func (s *BatimentService) Etages(w http.ResponseWriter, r *http.Request) {
	batimentId, err := utils.URLParamUint(r, "batiment_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var etages []schema.Etage
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkBatimentExists(txn, batimentId); err != nil {
			return err
		}

		etages, err = listAll[schema.Etage](txn, "etages", "batiment_id = ?", batimentId)
		return err
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToEtageInfos(etages))
}
