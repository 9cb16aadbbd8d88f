package services

import (
	"log/slog"
	"net/http"

	"baes_platform/baes_manager/schema"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const maxEtageNameLength = 100

type EtageService struct {
	db *gorm.DB
}

func (s *EtageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{etage_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/assign", s.AssignCarte)
		r.Get("/baes", s.Baes)
		r.Get("/carte", s.Carte)
	})

	return r
}

type EtageInfo struct {
	Id         uint   `json:"id"`
	Name       string `json:"name"`
	BatimentId uint   `json:"batiment_id"`
}

func convertToEtageInfo(etage schema.Etage) EtageInfo {
	return EtageInfo{Id: etage.Id, Name: etage.Name, BatimentId: etage.BatimentId}
}

func convertToEtageInfos(etages []schema.Etage) []EtageInfo {
	infos := make([]EtageInfo, 0, len(etages))
	for _, etage := range etages {
		infos = append(infos, convertToEtageInfo(etage))
	}
	return infos
}

func (s *EtageService) List(w http.ResponseWriter, r *http.Request) {
	etages, err := listAll[schema.Etage](s.db.WithContext(r.Context()), "etages")
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToEtageInfos(etages))
}

func (s *EtageService) Get(w http.ResponseWriter, r *http.Request) {
	etageId, err := utils.URLParamUint(r, "etage_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	etage, err := schema.GetEtage(etageId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToEtageInfo(etage))
}

type etageRequest struct {
	Name       *string `json:"name"`
	BatimentId *uint   `json:"batiment_id"`
}

func (s *EtageService) Create(w http.ResponseWriter, r *http.Request) {
	var params etageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	const missing = "Les champs name et batiment_id sont requis"
	if params.BatimentId == nil {
		utils.WriteJsonError(w, missing, http.StatusBadRequest)
		return
	}
	name, err := requireName(params.Name, missing, maxEtageNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	etage := schema.Etage{Name: name, BatimentId: *params.BatimentId}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkBatimentExists(txn, etage.BatimentId); err != nil {
			return err
		}

		result := txn.Create(&etage)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating etage", "Cet étage existe déjà")
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("created etage", "etage_id", etage.Id, "batiment_id", etage.BatimentId)

	utils.WriteCreated(w, convertToEtageInfo(etage))
}

func (s *EtageService) Update(w http.ResponseWriter, r *http.Request) {
	etageId, err := utils.URLParamUint(r, "etage_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params etageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := optionalName(params.Name, "name", maxEtageNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if params.BatimentId != nil {
		updates["batiment_id"] = *params.BatimentId
	}

	var etage schema.Etage
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		etage, err = schema.GetEtage(etageId, txn)
		if err != nil {
			return lookupError(err)
		}

		if params.BatimentId != nil {
			if err := checkBatimentExists(txn, *params.BatimentId); err != nil {
				return err
			}
		}

		if len(updates) == 0 {
			return nil
		}

		result := txn.Model(&etage).Updates(updates)
		if result.Error != nil {
			return writeQueryError(result.Error, "updating etage", "Cet étage existe déjà")
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToEtageInfo(etage))
}

func (s *EtageService) Delete(w http.ResponseWriter, r *http.Request) {
	etageId, err := utils.URLParamUint(r, "etage_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		etage, err := schema.GetEtage(etageId, txn)
		if err != nil {
			return lookupError(err)
		}

		if err := checkNoChildren(txn, &schema.Baes{}, "Impossible de supprimer l'étage: des BAES y sont rattachés", "etage_id = ?", etageId); err != nil {
			return err
		}
		if err := checkNoChildren(txn, &schema.Carte{}, "Impossible de supprimer l'étage: une carte y est assignée", "etage_id = ?", etageId); err != nil {
			return err
		}

		return deleteRow(txn, &etage, "etages")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("deleted etage", "etage_id", etageId)

	utils.WriteMessage(w, "Étage supprimé avec succès")
}

func (s *EtageService) AssignCarte(w http.ResponseWriter, r *http.Request) {
	etageId, err := utils.URLParamUint(r, "etage_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkEtageExists(s.db.WithContext(r.Context()), etageId); err != nil {
		writeError(w, err)
		return
	}

	var params assignCarteRequest
	if err := decodeAssignRequest(r, &params); err != nil {
		writeError(w, err)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkEtageExists(txn, etageId); err != nil {
			return err
		}
		return assignCarte(txn, *params.CardId, etageTarget(etageId))
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, "Carte assignée à l'étage avec succès.")
}

func (s *EtageService) Baes(w http.ResponseWriter, r *http.Request) {
	etageId, err := utils.URLParamUint(r, "etage_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var baes []schema.Baes
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkEtageExists(txn, etageId); err != nil {
			return err
		}

		baes, err = listAll[schema.Baes](txn, "baes", "etage_id = ?", etageId)
		return err
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToBaesInfos(baes))
}

func (s *EtageService) Carte(w http.ResponseWriter, r *http.Request) {
	etageId, err := utils.URLParamUint(r, "etage_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var carte schema.Carte
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkEtageExists(txn, etageId); err != nil {
			return err
		}

		carte, err = findAssignedCarte(txn, etageTarget(etageId))
		return err
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToCarteInfo(carte))
}
