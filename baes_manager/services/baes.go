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

type BaesService struct {
	db *gorm.DB
}

func (s *BaesService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{baes_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/erreurs", s.Erreurs)
	})

	return r
}

type BaesInfo struct {
	Id       uint           `json:"id"`
	Name     string         `json:"name"`
	Position datatypes.JSON `json:"position"`
	EtageId  uint           `json:"etage_id"`
}

func convertToBaesInfo(baes schema.Baes) BaesInfo {
	return BaesInfo{Id: baes.Id, Name: baes.Name, Position: baes.Position, EtageId: baes.EtageId}
}

func convertToBaesInfos(baes []schema.Baes) []BaesInfo {
	infos := make([]BaesInfo, 0, len(baes))
	for _, b := range baes {
		infos = append(infos, convertToBaesInfo(b))
	}
	return infos
}

const duplicateBaesMsg = "Un BAES avec ce nom existe déjà"

func (s *BaesService) List(w http.ResponseWriter, r *http.Request) {
	baes, err := listAll[schema.Baes](s.db.WithContext(r.Context()), "baes")
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToBaesInfos(baes))
}

func (s *BaesService) Get(w http.ResponseWriter, r *http.Request) {
	baesId, err := utils.URLParamUint(r, "baes_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	baes, err := schema.GetBaes(baesId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToBaesInfo(baes))
}

type baesRequest struct {
	Name     *string         `json:"name"`
	Position json.RawMessage `json:"position"`
	EtageId  *uint           `json:"etage_id"`
}

func (p *baesRequest) hasPosition() bool {
	return len(p.Position) > 0 && string(p.Position) != "null"
}

func (s *BaesService) Create(w http.ResponseWriter, r *http.Request) {
	var params baesRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	const missing = "Les champs name, position et etage_id sont requis"
	if params.EtageId == nil || !params.hasPosition() {
		utils.WriteJsonError(w, missing, http.StatusBadRequest)
		return
	}
	name, err := requireName(params.Name, missing, maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := jsonObjectOrList(params.Position, "position"); err != nil {
		writeError(w, err)
		return
	}

	baes := schema.Baes{Name: name, Position: datatypes.JSON(params.Position), EtageId: *params.EtageId}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkEtageExists(txn, baes.EtageId); err != nil {
			return err
		}

		result := txn.Create(&baes)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating baes", duplicateBaesMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("created baes", "baes_id", baes.Id, "etage_id", baes.EtageId)

	utils.WriteCreated(w, convertToBaesInfo(baes))
}

func (s *BaesService) Update(w http.ResponseWriter, r *http.Request) {
	baesId, err := utils.URLParamUint(r, "baes_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params baesRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := optionalName(params.Name, "name", maxNameLength)
	if err != nil {
		writeError(w, err)
		return
	}

	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if len(params.Position) > 0 {
		if err := jsonObjectOrList(params.Position, "position"); err != nil {
			writeError(w, err)
			return
		}
		updates["position"] = datatypes.JSON(params.Position)
	}
	if params.EtageId != nil {
		updates["etage_id"] = *params.EtageId
	}

	var baes schema.Baes
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		baes, err = schema.GetBaes(baesId, txn)
		if err != nil {
			return lookupError(err)
		}

		if params.EtageId != nil {
			if err := checkEtageExists(txn, *params.EtageId); err != nil {
				return err
			}
		}

		if len(updates) == 0 {
			return nil
		}

		result := txn.Model(&baes).Updates(updates)
		if result.Error != nil {
			return writeQueryError(result.Error, "updating baes", duplicateBaesMsg)
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToBaesInfo(baes))
}

func (s *BaesService) Delete(w http.ResponseWriter, r *http.Request) {
	baesId, err := utils.URLParamUint(r, "baes_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		baes, err := schema.GetBaes(baesId, txn)
		if err != nil {
			return lookupError(err)
		}

		if err := checkNoChildren(txn, &schema.HistoriqueErreur{}, "Impossible de supprimer le BAES: un historique d'erreurs y est rattaché", "baes_id = ?", baesId); err != nil {
			return err
		}

		return deleteRow(txn, &baes, "baes")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("deleted baes", "baes_id", baesId)

	utils.WriteMessage(w, "BAES supprimé avec succès")
}

func (s *BaesService) Erreurs(w http.ResponseWriter, r *http.Request) {
	baesId, err := utils.URLParamUint(r, "baes_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var erreurs []schema.HistoriqueErreur
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkBaesExists(txn, baesId); err != nil {
			return err
		}

		erreurs, err = listAll[schema.HistoriqueErreur](txn, "historique_erreur", "baes_id = ?", baesId)
		return err
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToErreurInfos(erreurs))
}
