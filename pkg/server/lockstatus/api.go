// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package lockstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"github.com/xmldb/xmldb/pkg/storage/locktable/lockdump"
	"github.com/xmldb/xmldb/pkg/util/log"
)

// Endpoint is the prefix under which the lock table is inspected.
const Endpoint = "/debug/locks/"

// MetricsEndpoint serves the metrics in the Prometheus text format.
const MetricsEndpoint = "/debug/metrics"

var contentTypes = map[lockdump.Format]string{
	lockdump.FormatXML:  "application/xml",
	lockdump.FormatJSON: "application/json",
	lockdump.FormatYAML: "application/yaml",
}

func writeJSONResponse(ctx context.Context, w http.ResponseWriter, code int, payload interface{}) {
	res, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(ctx, err, w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(res); err != nil {
		log.Warningf(ctx, "writing response: %v", err)
	}
}

// writeInternalError maps err to an HTTP status. A lock table that is
// shutting down reports 503.
func writeInternalError(ctx context.Context, err error, w http.ResponseWriter) {
	if errors.Is(err, locktable.ErrInstanceNotAvailable) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	log.Errorf(ctx, "%v", err)
	http.Error(w, "An internal server error has occurred. Please check your lock table logs for more details.",
		http.StatusInternalServerError)
}

type apiServer struct {
	status *Status
}

// NewHandler returns the HTTP handler serving the lock table endpoints and
// the metrics gathered by gatherer. A nil gatherer serves the default
// Prometheus registry.
func NewHandler(status *Status, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a := &apiServer{status: status}
	router := mux.NewRouter()
	routeDefinitions := []struct {
		endpoint string
		handler  http.HandlerFunc
	}{
		{"acquired", a.acquired},
		{"attempting", a.attempting},
		{"dump", a.dump},
	}
	for _, route := range routeDefinitions {
		router.HandleFunc(Endpoint+route.endpoint, route.handler).Methods(http.MethodGet)
	}
	router.Handle(MetricsEndpoint, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

func (a *apiServer) acquired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := a.status.GetAcquired(ctx)
	if err != nil {
		writeInternalError(ctx, err, w)
		return
	}
	writeJSONResponse(ctx, w, http.StatusOK, res)
}

func (a *apiServer) attempting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := a.status.GetAttempting(ctx)
	if err != nil {
		writeInternalError(ctx, err, w)
		return
	}
	writeJSONResponse(ctx, w, http.StatusOK, res)
}

// dump serves a rendering of the lock table. The format parameter selects
// "text" (the default, styled by the style parameter) or one of the export
// formats; full=true includes the call stacks.
func (a *apiServer) dump(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var full bool
	if s := q.Get("full"); s != "" {
		var err error
		if full, err = strconv.ParseBool(s); err != nil {
			http.Error(w, "invalid full parameter", http.StatusBadRequest)
			return
		}
	}

	var buf bytes.Buffer
	contentType := "text/plain; charset=utf-8"
	switch formatStr := q.Get("format"); formatStr {
	case "", "text":
		style := lockdump.StyleTSV
		if s := q.Get("style"); s != "" {
			var err error
			if style, err = lockdump.ParseStyle(s); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if style == lockdump.StyleHTML {
			contentType = "text/html; charset=utf-8"
		}
		snap, err := a.status.snapshot(ctx, "dumping locks over http")
		if err != nil {
			writeInternalError(ctx, err, w)
			return
		}
		if err := lockdump.WriteText(&buf, snap, lockdump.TextOptions{Style: style, Full: full}); err != nil {
			writeInternalError(ctx, err, w)
			return
		}
	default:
		format, err := lockdump.ParseFormat(formatStr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		contentType = contentTypes[format]
		if err := a.status.DumpExport(ctx, &buf, format, full); err != nil {
			writeInternalError(ctx, err, w)
			return
		}
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Warningf(ctx, "writing response: %v", err)
	}
}
