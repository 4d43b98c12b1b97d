package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
)

type Router struct {
	*Handler
	*mux.Router
}

type Route struct {
	*Handler
	*mux.Route
	endpoint    string
	handlerFunc func(*ResponseWriter, *http.Request)
}

type ResponseWriter struct {
	*Handler
	http           http.ResponseWriter
	endpointStat   endpointStat
	statusCode     int
	statusCodeSent bool
}

func NewRouter(h *Handler) Router {
	return Router{Handler: h, Router: mux.NewRouter()}
}

func (r Router) Path(tpl string) *Route {
	return &Route{
		Handler:  r.Handler,
		Route:    r.Router.Path(tpl),
		endpoint: tpl[strings.LastIndex(tpl, "/")+1:],
	}
}

func (r Router) PathPrefix(tpl string) *Route {
	return &Route{
		Handler: r.Handler,
		Route:   r.Router.PathPrefix(tpl),
	}
}

func (r *Route) Subrouter() Router {
	return Router{
		Handler: r.Handler,
		Router:  r.Route.Subrouter(),
	}
}

func (r *Route) Methods(methods ...string) *Route {
	r.Route = r.Route.Methods(methods...)
	return r
}

func (r *Route) HandlerFunc(f func(*ResponseWriter, *http.Request)) *Route {
	r.handlerFunc = f
	r.Route.HandlerFunc(r.handle)
	return r
}

func (r *Route) handle(http http.ResponseWriter, req *http.Request) {
	w := &ResponseWriter{
		Handler: r.Handler,
		http:    http,
		endpointStat: endpointStat{
			endpoint:  r.endpoint,
			method:    req.Method,
			startTime: time.Now(),
		},
	}
	defer r.reportStatistics(w)
	r.handlerFunc(w, req)
}

func (r *Route) reportStatistics(w *ResponseWriter) {
	if err := recover(); err != nil {
		level.Error(r.logger).Log("msg", "panic in handler", "endpoint", w.endpointStat.endpoint, "err", err)
		if !w.statusCodeSent {
			http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
		}
	}
	w.endpointStat.report(w.statusCode)
}

func (w *ResponseWriter) Header() http.Header {
	return w.http.Header()
}

func (w *ResponseWriter) Write(s []byte) (int, error) {
	if !w.statusCodeSent {
		w.WriteHeader(http.StatusOK)
	}
	return w.http.Write(s)
}

func (w *ResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.http.WriteHeader(statusCode)
	w.statusCodeSent = true
}
