package transport

import "net/http"

type Handler interface {
	create(w http.ResponseWriter, r *http.Request)
	task(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/tasks", r.h.create)
	mux.HandleFunc("/tasks/", r.h.task)

	return mux
}
