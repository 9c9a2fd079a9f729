package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Reservations *ReservationHandler
	Desks        *DeskHandler
	Middleware   []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Reservations != nil {
		mux.HandleFunc("/reservations", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Reservations.List(w, r)
			case http.MethodPost:
				cfg.Reservations.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/reservations/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reservations/"), "/")
			if rest == "" {
				http.NotFound(w, r)
				return
			}

			switch rest {
			case "current":
				onlyGet(w, r, cfg.Reservations.Current)
				return
			case "upcoming":
				onlyGet(w, r, cfg.Reservations.Upcoming)
				return
			case "calendar":
				onlyGet(w, r, cfg.Reservations.Calendar)
				return
			case "calendar.ics":
				onlyGet(w, r, cfg.Reservations.ICS)
				return
			}

			id, action, _ := strings.Cut(rest, "/")
			r = r.WithContext(ContextWithReservationID(r.Context(), id))
			if action == "" {
				onlyGet(w, r, cfg.Reservations.Get)
				return
			}

			var handle http.HandlerFunc
			switch action {
			case "check-in":
				handle = cfg.Reservations.CheckIn
			case "cancel":
				handle = cfg.Reservations.Cancel
			case "complete":
				handle = cfg.Reservations.Complete
			case "no-show":
				handle = cfg.Reservations.NoShow
			default:
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			handle(w, r)
		})
	}

	if cfg.Desks != nil {
		mux.HandleFunc("/desks", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Desks.List(w, r)
			case http.MethodPost:
				cfg.Desks.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/desks/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/desks/"), "/")
			if rest == "" {
				http.NotFound(w, r)
				return
			}
			if rest == "available" {
				onlyGet(w, r, cfg.Desks.Available)
				return
			}

			id, action, _ := strings.Cut(rest, "/")
			r = r.WithContext(ContextWithDeskID(r.Context(), id))
			switch action {
			case "":
				onlyGet(w, r, cfg.Desks.Get)
			case "maintenance":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Desks.SetMaintenance(w, r)
			default:
				http.NotFound(w, r)
			}
		})
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

func onlyGet(w http.ResponseWriter, r *http.Request, handle http.HandlerFunc) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	handle(w, r)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
