package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"baes_platform/baes_manager/schema"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type ErreurService struct {
	db *gorm.DB
}

func (s *ErreurService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{erreur_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)
	})

	return r
}

type ErreurInfo struct {
	Id         uint      `json:"id"`
	BaesId     uint      `json:"baes_id"`
	TypeErreur string    `json:"type_erreur"`
	Timestamp  time.Time `json:"timestamp"`
}

func convertToErreurInfo(erreur schema.HistoriqueErreur) ErreurInfo {
	return ErreurInfo{
		Id:         erreur.Id,
		BaesId:     erreur.BaesId,
		TypeErreur: erreur.TypeErreur,
		Timestamp:  erreur.Timestamp,
	}
}

func convertToErreurInfos(erreurs []schema.HistoriqueErreur) []ErreurInfo {
	infos := make([]ErreurInfo, 0, len(erreurs))
	for _, erreur := range erreurs {
		infos = append(infos, convertToErreurInfo(erreur))
	}
	return infos
}

func checkErrorType(typeErreur string) error {
	if !slices.Contains(schema.ErrorTypes, typeErreur) {
		return badRequest(fmt.Sprintf("Type d'erreur '%s' invalide, valeurs possibles: %s", typeErreur, strings.Join(schema.ErrorTypes, ", ")))
	}
	return nil
}

func (s *ErreurService) List(w http.ResponseWriter, r *http.Request) {
	erreurs, err := listAll[schema.HistoriqueErreur](s.db.WithContext(r.Context()), "historique_erreur")
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToErreurInfos(erreurs))
}

func (s *ErreurService) Get(w http.ResponseWriter, r *http.Request) {
	erreurId, err := utils.URLParamUint(r, "erreur_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	erreur, err := schema.GetErreur(erreurId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToErreurInfo(erreur))
}

type erreurRequest struct {
	BaesId     *uint      `json:"baes_id"`
	TypeErreur *string    `json:"type_erreur"`
	Timestamp  *time.Time `json:"timestamp"`
}

func (s *ErreurService) Create(w http.ResponseWriter, r *http.Request) {
	var params erreurRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.BaesId == nil || params.TypeErreur == nil {
		utils.WriteJsonError(w, "Les champs baes_id et type_erreur sont requis", http.StatusBadRequest)
		return
	}
	if err := checkErrorType(*params.TypeErreur); err != nil {
		writeError(w, err)
		return
	}

	erreur := schema.HistoriqueErreur{BaesId: *params.BaesId, TypeErreur: *params.TypeErreur}
	if params.Timestamp != nil {
		erreur.Timestamp = params.Timestamp.UTC()
	}

	err := s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if err := checkBaesExists(txn, erreur.BaesId); err != nil {
			return err
		}

		result := txn.Create(&erreur)
		if result.Error != nil {
			return writeQueryError(result.Error, "creating historique erreur", "Cette erreur existe déjà")
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("recorded baes error", "erreur_id", erreur.Id, "baes_id", erreur.BaesId, "type_erreur", erreur.TypeErreur)

	utils.WriteCreated(w, convertToErreurInfo(erreur))
}

func (s *ErreurService) Update(w http.ResponseWriter, r *http.Request) {
	erreurId, err := utils.URLParamUint(r, "erreur_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params erreurRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	updates := map[string]interface{}{}
	if params.TypeErreur != nil {
		if err := checkErrorType(*params.TypeErreur); err != nil {
			writeError(w, err)
			return
		}
		updates["type_erreur"] = *params.TypeErreur
	}
	if params.Timestamp != nil {
		updates["timestamp"] = params.Timestamp.UTC()
	}
	if params.BaesId != nil {
		updates["baes_id"] = *params.BaesId
	}

	var erreur schema.HistoriqueErreur
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		erreur, err = schema.GetErreur(erreurId, txn)
		if err != nil {
			return lookupError(err)
		}

		if params.BaesId != nil {
			if err := checkBaesExists(txn, *params.BaesId); err != nil {
				return err
			}
		}

		if len(updates) == 0 {
			return nil
		}

		result := txn.Model(&erreur).Updates(updates)
		if result.Error != nil {
			return writeQueryError(result.Error, "updating historique erreur", "Cette erreur existe déjà")
		}
		return nil
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJsonResponse(w, convertToErreurInfo(erreur))
}

func (s *ErreurService) Delete(w http.ResponseWriter, r *http.Request) {
	erreurId, err := utils.URLParamUint(r, "erreur_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		erreur, err := schema.GetErreur(erreurId, txn)
		if err != nil {
			return lookupError(err)
		}
		return deleteRow(txn, &erreur, "historique_erreur")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteMessage(w, "Erreur supprimée avec succès")
}
