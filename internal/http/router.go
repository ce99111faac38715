package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Attendees *AttendeeHandler
	Surveys   *SurveyHandler
	Snapshots *SnapshotHandler
	Status    *StatusHandler
	Draws     *DrawHandler
	Events    http.Handler
	// Admin guards destructive routes. Nil leaves them unguarded.
	Admin      func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	admin := func(h http.HandlerFunc) http.Handler {
		if cfg.Admin == nil {
			return h
		}
		return cfg.Admin(h)
	}

	if cfg.Attendees != nil {
		clearAttendees := admin(cfg.Attendees.Clear)
		mux.HandleFunc("/attendees", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Attendees.List(w, r)
			case http.MethodPost:
				cfg.Attendees.Create(w, r)
			case http.MethodDelete:
				clearAttendees.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
			}
		})
		mux.HandleFunc("/attendees/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.TrimPrefix(r.URL.Path, "/attendees/")
			id, action, _ := strings.Cut(rest, "/")
			if id == "" {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithAttendeeID(r.Context(), id))
			switch action {
			case "":
				if r.Method != http.MethodDelete {
					methodNotAllowed(w, http.MethodDelete)
					return
				}
				cfg.Attendees.Delete(w, r)
			case "presence":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Attendees.SetPresence(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Surveys != nil {
		clearSurveys := admin(cfg.Surveys.Clear)
		mux.HandleFunc("/surveys", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Surveys.List(w, r)
			case http.MethodPost:
				cfg.Surveys.Create(w, r)
			case http.MethodDelete:
				clearSurveys.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
			}
		})
	}

	if cfg.Snapshots != nil {
		importSnapshot := admin(cfg.Snapshots.Import)
		mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Snapshots.Export(w, r)
			case http.MethodPut:
				importSnapshot.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPut)
			}
		})
	}

	if cfg.Status != nil {
		mux.HandleFunc("/stats", only(http.MethodGet, cfg.Status.Stats))
		mux.HandleFunc("/status", only(http.MethodGet, cfg.Status.Status))
		mux.HandleFunc("/connectivity/online", only(http.MethodPost, cfg.Status.Online))
		mux.HandleFunc("/connectivity/offline", only(http.MethodPost, cfg.Status.Offline))
	}

	if cfg.Draws != nil {
		mux.HandleFunc("/draws/groups", only(http.MethodPost, cfg.Draws.Groups))
		mux.HandleFunc("/draws/prize", only(http.MethodPost, cfg.Draws.Prize))
	}

	if cfg.Events != nil {
		mux.Handle("/events", cfg.Events)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

func only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w, method)
			return
		}
		next(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
