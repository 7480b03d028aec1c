package ranker

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/unrolled/render"
)

var renderer = render.New(render.Options{IndentJSON: false})

// hitWire is the wire shape of one Search result, spec §4.11/§6: the
// document id plus the fused score, nothing else -- the caller re-fetches
// document fields from the datastore if it wants to render a snippet.
type hitWire struct {
	DocumentID int64   `json:"document_id"`
	Score      float64 `json:"score"`
}

type searchResponse struct {
	Query   string    `json:"query"`
	Results []hitWire `json:"results"`
}

type searchErrorResponse struct {
	Error string `json:"error"`
}

// Handler returns an http.Handler exposing GET /search?q=<query>&offset=&limit=
// over r, spec §6's query-service external interface. A missing or empty q
// fails with {"error": "Invalid query"} rather than a 500, since an empty
// query is a client mistake, not a server fault.
func Handler(r *Ranker) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/search", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query().Get("q")
		if q == "" {
			renderer.JSON(w, http.StatusBadRequest, searchErrorResponse{Error: "Invalid query"})
			return
		}

		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 20
		}

		results, err := Search(r, q, offset, limit)
		if err != nil {
			renderer.JSON(w, http.StatusBadRequest, searchErrorResponse{Error: "Invalid query"})
			return
		}

		hits := make([]hitWire, len(results))
		for i, res := range results {
			hits[i] = hitWire{DocumentID: res.DocumentID, Score: res.Score}
		}
		renderer.JSON(w, http.StatusOK, searchResponse{Query: q, Results: hits})
	}).Methods(http.MethodGet)
	return router
}
