package httpapi

import (
	"net/http"
	"time"

	"tofyx-server/internal/utils"
)

func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /api/hello", handleHello)
	return mux
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "TOFY-X1 backend running",
		"time":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func handleHello(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Hello from the TOFY-X1 backend API!",
	})
}
