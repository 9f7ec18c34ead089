package querier

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/cairndb/cairn/pkg/util"
)

const traceIDVar = "traceID"

// TraceByIDHandler is a http.HandlerFunc to retrieve traces
func (q *Querier) TraceByIDHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), q.cfg.TraceLookupQueryTimeout)
	defer cancel()

	vars := mux.Vars(r)
	traceID, ok := vars[traceIDVar]
	if !ok {
		http.Error(w, "please provide a traceID", http.StatusBadRequest)
		return
	}

	byteID, err := util.HexStringToTraceID(traceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trace, err := q.FindTraceByID(ctx, byteID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if trace == nil {
		http.Error(w, fmt.Sprintf("Unable to find %s", traceID), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err = jsoniter.NewEncoder(w).Encode(trace)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
