package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"baes_platform/baes_manager/schema"
	"baes_platform/utils/logging"

	"gorm.io/gorm"
)

// carteTarget is the owner a carte gets attached to, either an etage or a site.
type carteTarget struct {
	column     string
	id         uint
	occupied   string
	targetKind string
}

func etageTarget(etageId uint) carteTarget {
	return carteTarget{
		column:     "etage_id",
		id:         etageId,
		occupied:   "Une carte est déjà assignée à cet étage",
		targetKind: "etage",
	}
}

func siteTarget(siteId uint) carteTarget {
	return carteTarget{
		column:     "site_id",
		id:         siteId,
		occupied:   "Une carte est déjà assignée à ce site",
		targetKind: "site",
	}
}

func (t carteTarget) checkExists(txn *gorm.DB) error {
	if t.column == "etage_id" {
		return checkEtageExists(txn, t.id)
	}
	return checkSiteExists(txn, t.id)
}

func (t carteTarget) apply(carte *schema.Carte) {
	id := t.id
	if t.column == "etage_id" {
		carte.EtageId = &id
	} else {
		carte.SiteId = &id
	}
}

func decodeAssignRequest(r *http.Request, params *assignCarteRequest) error {
	err := json.NewDecoder(r.Body).Decode(params)
	if err != nil && !errors.Is(err, io.EOF) {
		return CodedError(fmt.Errorf("error parsing request body: %w", err), http.StatusBadRequest)
	}
	if params.CardId == nil {
		return CodedError(ErrCardIdRequired, http.StatusBadRequest)
	}
	return nil
}

func checkTargetFree(txn *gorm.DB, target carteTarget) error {
	count, err := schema.CountWhere(txn, &schema.Carte{}, target.column+" = ?", target.id)
	if err != nil {
		return CodedError(err, http.StatusInternalServerError)
	}
	if count != 0 {
		return CodedError(errors.New(target.occupied), http.StatusConflict)
	}
	return nil
}

// assignCarte attaches an unassigned carte to target. The carte row is locked and the
// update only matches while both foreign keys are still null, so two concurrent
// assignments of the same carte cannot both succeed.
func assignCarte(txn *gorm.DB, carteId uint, target carteTarget) error {
	carte, err := schema.GetCarteForUpdate(carteId, txn)
	if err != nil {
		return lookupError(err)
	}

	if carte.Assigned() {
		carteAssignConflictMetric.Inc()
		slog.Info("carte already assigned", logging.Code(logging.CARTE_ASSIGN), "carte_id", carteId, "target", target.targetKind, "target_id", target.id)
		return CodedError(ErrCarteAlreadyAssigned, http.StatusBadRequest)
	}

	if err := checkTargetFree(txn, target); err != nil {
		return err
	}

	result := txn.Model(&schema.Carte{}).
		Where("id = ? AND etage_id IS NULL AND site_id IS NULL", carteId).
		Update(target.column, target.id)
	if result.Error != nil {
		return writeQueryError(result.Error, "assigning carte", target.occupied)
	}
	if result.RowsAffected == 0 {
		carteAssignConflictMetric.Inc()
		return CodedError(ErrCarteAlreadyAssigned, http.StatusBadRequest)
	}

	slog.Info("assigned carte", logging.Code(logging.CARTE_ASSIGN), "carte_id", carteId, "target", target.targetKind, "target_id", target.id)

	return nil
}

func findAssignedCarte(txn *gorm.DB, target carteTarget) (schema.Carte, error) {
	var carte schema.Carte
	result := txn.Limit(1).Find(&carte, target.column+" = ?", target.id)
	if result.Error != nil {
		slog.Error("sql error finding assigned carte", "target", target.targetKind, "target_id", target.id, "error", result.Error)
		return carte, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		return carte, CodedError(schema.ErrCarteNotFound, http.StatusNotFound)
	}
	return carte, nil
}
