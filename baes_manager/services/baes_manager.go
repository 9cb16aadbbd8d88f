package services

import (
	"log"
	"net/http"
	"os"

	"baes_platform/baes_manager/storage"
	"baes_platform/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Options struct {
	MaxUploadBytes  int64
	UploadRateLimit int

	// Requests that modify data are written here when set.
	AuditLog func(http.Handler) http.Handler
}

const DefaultMaxUploadBytes = 32 * 1024 * 1024

type BaesManager struct {
	site     SiteService
	batiment BatimentService
	etage    EtageService
	carte    CarteService
	baes     BaesService
	erreur   ErreurService
	role     RoleService
	user     UserService

	auditLog func(http.Handler) http.Handler
}

func NewBaesManager(db *gorm.DB, storage storage.Storage, opts Options) BaesManager {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	return BaesManager{
		site:     SiteService{db: db},
		batiment: BatimentService{db: db},
		etage:    EtageService{db: db},
		carte: CarteService{
			db:              db,
			storage:         storage,
			maxUploadBytes:  opts.MaxUploadBytes,
			uploadRateLimit: opts.UploadRateLimit,
		},
		baes:     BaesService{db: db},
		erreur:   ErreurService{db: db},
		role:     RoleService{db: db},
		user:     UserService{db: db},
		auditLog: opts.AuditLog,
	}
}

func (m *BaesManager) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))
	r.Use(requestMetrics)
	if m.auditLog != nil {
		r.Use(m.auditLog)
	}

	r.Mount("/sites", m.site.Routes())
	r.Mount("/batiments", m.batiment.Routes())
	r.Mount("/etages", m.etage.Routes())
	r.Mount("/cartes", m.carte.Routes())
	r.Mount("/baes", m.baes.Routes())
	r.Mount("/erreurs", m.erreur.Routes())
	r.Mount("/roles", m.role.Routes())
	r.Mount("/users", m.user.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJsonError(w, "Ressource non trouvée", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJsonError(w, "Méthode non autorisée", http.StatusMethodNotAllowed)
	})

	return r
}
