package services

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"baes_platform/baes_manager/schema"
	"baes_platform/baes_manager/storage"
	"baes_platform/utils"

	"gorm.io/gorm"
)

var (
	ErrCarteAlreadyAssigned = errors.New("Carte déjà assignée à un étage ou un site")
	ErrCardIdRequired       = errors.New(`Le champ "card_id" est requis`)
	ErrInvalidReference     = errors.New("Référence vers une entité inexistante ou encore utilisée")
	ErrConstraintFailed     = errors.New("Contrainte de validation non respectée")
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	utils.WriteJsonError(w, err.Error(), GetResponseCode(err))
}

func badRequest(msg string) error {
	return CodedError(errors.New(msg), http.StatusBadRequest)
}

var notFoundErrors = []error{
	schema.ErrSiteNotFound, schema.ErrBatimentNotFound, schema.ErrEtageNotFound,
	schema.ErrCarteNotFound, schema.ErrBaesNotFound, schema.ErrErreurNotFound,
	schema.ErrRoleNotFound, schema.ErrUserNotFound,
}

// lookupError converts an error returned by one of the schema getters into a coded error.
func lookupError(err error) error {
	for _, notFound := range notFoundErrors {
		if errors.Is(err, notFound) {
			return CodedError(err, http.StatusNotFound)
		}
	}
	return CodedError(err, http.StatusInternalServerError)
}

// writeQueryError converts a failed insert/update/delete into a coded error. Constraint
// violations become client errors, uniqueMsg is returned for unique violations.
func writeQueryError(err error, action string, uniqueMsg string) error {
	translated := schema.TranslateDbError(err)
	switch {
	case errors.Is(translated, schema.ErrUniqueViolation):
		return CodedError(errors.New(uniqueMsg), http.StatusConflict)
	case errors.Is(translated, schema.ErrForeignKeyViolation):
		return CodedError(ErrInvalidReference, http.StatusConflict)
	case errors.Is(translated, schema.ErrCheckViolation):
		return CodedError(ErrConstraintFailed, http.StatusBadRequest)
	}
	slog.Error("sql error "+action, "error", err)
	return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
}

func listAll[T any](db *gorm.DB, table string, query ...interface{}) ([]T, error) {
	rows := make([]T, 0)

	q := db.Order("id")
	if len(query) > 0 {
		q = q.Where(query[0], query[1:]...)
	}

	result := q.Find(&rows)
	if result.Error != nil {
		slog.Error("sql error listing rows", "table", table, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return rows, nil
}

// checkNoChildren fails with a conflict if any row of model matches the condition.
func checkNoChildren(txn *gorm.DB, model interface{}, msg string, query string, args ...interface{}) error {
	count, err := schema.CountWhere(txn, model, query, args...)
	if err != nil {
		return CodedError(err, http.StatusInternalServerError)
	}
	if count != 0 {
		return CodedError(errors.New(msg), http.StatusConflict)
	}
	return nil
}

func deleteRow(txn *gorm.DB, row interface{}, table string) error {
	result := txn.Delete(row)
	if result.Error != nil {
		return writeQueryError(result.Error, "deleting from "+table, ErrInvalidReference.Error())
	}
	return nil
}

func checkSiteExists(txn *gorm.DB, siteId uint) error {
	if _, err := schema.GetSite(siteId, txn); err != nil {
		return lookupError(err)
	}
	return nil
}

func checkBatimentExists(txn *gorm.DB, batimentId uint) error {
	if _, err := schema.GetBatiment(batimentId, txn); err != nil {
		return lookupError(err)
	}
	return nil
}

func checkEtageExists(txn *gorm.DB, etageId uint) error {
	if _, err := schema.GetEtage(etageId, txn); err != nil {
		return lookupError(err)
	}
	return nil
}

func checkBaesExists(txn *gorm.DB, baesId uint) error {
	if _, err := schema.GetBaes(baesId, txn); err != nil {
		return lookupError(err)
	}
	return nil
}

func checkUserExists(txn *gorm.DB, userId uint) error {
	if _, err := schema.GetUser(userId, txn, false, false); err != nil {
		return lookupError(err)
	}
	return nil
}

func checkDiskUsage(storage storage.Storage) error {
	stats, err := storage.Usage()
	if err != nil {
		slog.Error("unable to get disk usage from storage", "error", err)
		return CodedError(errors.New("unable to get disk usage"), http.StatusInternalServerError)
	}
	oneMib := uint64(1024 * 1024)
	// Either 20% disk needs to be free or 20Gb (in case the disk is very large)
	threshold := min(stats.TotalBytes/5, 20*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		delta := (threshold - stats.FreeBytes) / oneMib
		return CodedError(fmt.Errorf("insufficient disk space available, usage: %d/%d Mib, please clear %d Mib", used, total, delta), http.StatusInsufficientStorage)
	}
	return nil
}

func checkSufficientStorage(storage storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(storage); err != nil {
				slog.Error(err.Error())
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}

func getMultipartBoundary(r *http.Request) (string, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return "", badRequest("missing 'Content-Type' header")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", CodedError(fmt.Errorf("error parsing media type in request: %w", err), http.StatusBadRequest)
	}
	if mediaType != "multipart/form-data" {
		return "", badRequest("expected media type to be 'multipart/form-data'")
	}

	boundary, ok := params["boundary"]
	if !ok {
		return "", badRequest("missing 'boundary' parameter in 'Content-Type' header")
	}

	return boundary, nil
}
