package services

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"baes_platform/baes_manager/schema"
	"baes_platform/baes_manager/storage"
	"baes_platform/utils"
	"baes_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"gorm.io/gorm"
)

var allowedExtensions = map[string]struct{}{"png": {}, "jpg": {}, "jpeg": {}}

type CarteService struct {
	db      *gorm.DB
	storage storage.Storage

	maxUploadBytes  int64
	uploadRateLimit int
}

func (s *CarteService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)

	r.Group(func(r chi.Router) {
		if s.uploadRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.uploadRateLimit, time.Minute))
		}
		r.Use(checkSufficientStorage(s.storage))

		r.Post("/upload-carte", s.Upload)
	})

	r.Get("/download-carte/{carte_id}", s.Download)

	r.Route("/{carte_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Delete("/", s.Delete)
	})

	return r
}

type CarteInfo struct {
	Id      uint   `json:"id"`
	Chemin  string `json:"chemin"`
	EtageId *uint  `json:"etage_id"`
	SiteId  *uint  `json:"site_id"`
}

func convertToCarteInfo(carte schema.Carte) CarteInfo {
	return CarteInfo{Id: carte.Id, Chemin: carte.Chemin, EtageId: carte.EtageId, SiteId: carte.SiteId}
}

func (s *CarteService) List(w http.ResponseWriter, r *http.Request) {
	cartes, err := listAll[schema.Carte](s.db.WithContext(r.Context()), "cartes")
	if err != nil {
		writeError(w, err)
		return
	}

	infos := make([]CarteInfo, 0, len(cartes))
	for _, carte := range cartes {
		infos = append(infos, convertToCarteInfo(carte))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *CarteService) Get(w http.ResponseWriter, r *http.Request) {
	carteId, err := utils.URLParamUint(r, "carte_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	carte, err := schema.GetCarte(carteId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	utils.WriteJsonResponse(w, convertToCarteInfo(carte))
}

func (s *CarteService) Delete(w http.ResponseWriter, r *http.Request) {
	carteId, err := utils.URLParamUint(r, "carte_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var carte schema.Carte
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		carte, err = schema.GetCarte(carteId, txn)
		if err != nil {
			return lookupError(err)
		}
		return deleteRow(txn, &carte, "cartes")
	})

	if err != nil {
		writeError(w, err)
		return
	}

	// The row is gone at this point, a leftover file is only logged.
	if err := s.storage.Delete(carte.Chemin); err != nil {
		slog.Error("error removing plan image of deleted carte", logging.Code(logging.FILE_STORAGE), "carte_id", carteId, "chemin", carte.Chemin, "error", err)
	}

	slog.Info("deleted carte", "carte_id", carteId, "chemin", carte.Chemin)

	utils.WriteMessage(w, "Carte supprimée avec succès")
}

func fileExtension(filename string) (string, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", badRequest("Extension de fichier non autorisée")
	}
	ext := strings.ToLower(filename[idx+1:])
	if _, ok := allowedExtensions[ext]; !ok {
		return "", badRequest("Extension de fichier non autorisée")
	}
	return ext, nil
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

const maxFormIdLength = 32

func readFormId(part *multipart.Part) (uint, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFormIdLength+1))
	if err != nil {
		if isTooLarge(err) {
			return 0, CodedError(errors.New("Fichier trop volumineux"), http.StatusRequestEntityTooLarge)
		}
		return 0, CodedError(fmt.Errorf("error reading form field %v: %w", part.FormName(), err), http.StatusBadRequest)
	}
	if len(data) > maxFormIdLength {
		return 0, badRequest(fmt.Sprintf("Valeur invalide pour le champ %s", part.FormName()))
	}
	id, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest(fmt.Sprintf("Valeur invalide pour le champ %s", part.FormName()))
	}
	return uint(id), nil
}

type uploadForm struct {
	chemin  string
	etageId *uint
	siteId  *uint
}

func (f *uploadForm) target() (carteTarget, error) {
	switch {
	case f.etageId != nil && f.siteId == nil:
		return etageTarget(*f.etageId), nil
	case f.siteId != nil && f.etageId == nil:
		return siteTarget(*f.siteId), nil
	}
	return carteTarget{}, badRequest(`Un seul des champs "etage_id" ou "site_id" est requis`)
}

// readUploadForm streams the multipart body, the image is written to storage as soon as
// its part is reached. The caller owns the stored file once chemin is set, even on error.
func (s *CarteService) readUploadForm(r *http.Request, form *uploadForm) error {
	boundary, err := getMultipartBoundary(r)
	if err != nil {
		return err
	}

	reader := multipart.NewReader(r.Body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isTooLarge(err) {
				return CodedError(errors.New("Fichier trop volumineux"), http.StatusRequestEntityTooLarge)
			}
			return CodedError(fmt.Errorf("error parsing multipart request: %w", err), http.StatusBadRequest)
		}

		switch part.FormName() {
		case "file":
			if form.chemin != "" {
				part.Close()
				return badRequest("Un seul fichier est accepté")
			}
			if part.FileName() == "" {
				part.Close()
				return badRequest("Nom de fichier vide")
			}
			ext, err := fileExtension(part.FileName())
			if err != nil {
				slog.Info("rejected plan upload", logging.Code(logging.FILE_VALIDATION), "filename", part.FileName())
				part.Close()
				return err
			}

			chemin := storage.CartePath(ext)
			form.chemin = chemin
			if err := s.storage.Write(chemin, part); err != nil {
				part.Close()
				if isTooLarge(err) {
					return CodedError(errors.New("Fichier trop volumineux"), http.StatusRequestEntityTooLarge)
				}
				slog.Error("error saving uploaded plan", logging.Code(logging.FILE_STORAGE), "chemin", chemin, "error", err)
				return CodedError(errors.New("Erreur lors de l'enregistrement du fichier"), http.StatusInternalServerError)
			}
		case "etage_id":
			id, err := readFormId(part)
			if err != nil {
				part.Close()
				return err
			}
			form.etageId = &id
		case "site_id":
			id, err := readFormId(part)
			if err != nil {
				part.Close()
				return err
			}
			form.siteId = &id
		}
		part.Close()
	}

	if form.chemin == "" {
		return badRequest("Aucun fichier fourni")
	}
	return nil
}

type uploadCarteResponse struct {
	Message string `json:"message"`
	Chemin  string `json:"chemin"`
	Id      uint   `json:"id"`
}

func (s *CarteService) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	var form uploadForm
	err := s.readUploadForm(r, &form)

	var carte schema.Carte
	if err == nil {
		var target carteTarget
		target, err = form.target()
		if err == nil {
			carte.Chemin = form.chemin
			target.apply(&carte)

			err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
				if err := target.checkExists(txn); err != nil {
					return err
				}
				if err := checkTargetFree(txn, target); err != nil {
					return err
				}

				result := txn.Create(&carte)
				if result.Error != nil {
					return writeQueryError(result.Error, "creating carte", target.occupied)
				}
				return nil
			})
		}
	}

	if err != nil {
		if form.chemin != "" {
			if err := s.storage.Delete(form.chemin); err != nil {
				slog.Error("error removing plan image of failed upload", logging.Code(logging.FILE_STORAGE), "chemin", form.chemin, "error", err)
			}
		}
		writeError(w, err)
		return
	}

	carteUploadMetric.Inc()
	slog.Info("uploaded plan", logging.Code(logging.CARTE_UPLOAD), "carte_id", carte.Id, "chemin", carte.Chemin, "etage_id", carte.EtageId, "site_id", carte.SiteId)

	utils.WriteJsonResponse(w, uploadCarteResponse{Message: "Fichier uploadé avec succès", Chemin: carte.Chemin, Id: carte.Id})
}

func (s *CarteService) Download(w http.ResponseWriter, r *http.Request) {
	carteId, err := utils.URLParamUint(r, "carte_id")
	if err != nil {
		utils.WriteJsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	carte, err := schema.GetCarte(carteId, s.db.WithContext(r.Context()))
	if err != nil {
		writeError(w, lookupError(err))
		return
	}

	exists, err := s.storage.Exists(carte.Chemin)
	if err != nil {
		slog.Error("error checking plan image", logging.Code(logging.CARTE_DOWNLOAD), "carte_id", carteId, "error", err)
		utils.WriteJsonError(w, "Erreur lors de la lecture du fichier", http.StatusInternalServerError)
		return
	}
	if !exists {
		slog.Error("plan image missing from storage", logging.Code(logging.CARTE_DOWNLOAD), "carte_id", carteId, "chemin", carte.Chemin)
		utils.WriteJsonError(w, "Fichier non trouvé", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteJsonError(w, "http response does not support chunked response.", http.StatusInternalServerError)
		return
	}

	file, err := s.storage.Read(carte.Chemin)
	if err != nil {
		slog.Error("error opening plan image for download", logging.Code(logging.CARTE_DOWNLOAD), "carte_id", carteId, "error", err)
		utils.WriteJsonError(w, "Erreur lors de la lecture du fichier", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	filename := path.Base(carte.Chemin)
	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if size, err := s.storage.Size(carte.Chemin); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}

	buffer := bufio.NewReader(file)
	chunk := make([]byte, 1024*1024)

	for {
		readN, err := buffer.Read(chunk)
		isEof := err == io.EOF
		if err != nil && !isEof {
			// Headers are already sent, the client sees a truncated body.
			slog.Error("error reading chunk of plan image", logging.Code(logging.CARTE_DOWNLOAD), "carte_id", carteId, "error", err)
			return
		}

		writeN, err := w.Write(chunk[:readN])
		if err != nil {
			slog.Error("error writing plan image chunk", logging.Code(logging.CARTE_DOWNLOAD), "carte_id", carteId, "error", err)
			return
		}
		if writeN != readN {
			slog.Error("error writing plan image chunk", logging.Code(logging.CARTE_DOWNLOAD), "carte_id", carteId, "error", fmt.Sprintf("expected to write %d bytes to stream, wrote %d", readN, writeN))
			return
		}
		flusher.Flush()

		if isEof {
			break
		}
	}
}
