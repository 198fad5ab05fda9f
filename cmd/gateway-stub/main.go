// Command gateway-stub emulates the payment provider for local development
// and integration tests: it accepts intent creation and returns
// deterministic order ids derived from the receipt.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
)

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", "0.0.0.0:9090", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var req intentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Amount <= 0 || req.Receipt == "" {
			http.Error(w, "invalid intent", http.StatusUnprocessableEntity)
			return
		}

		// Deterministic id so re-posting the same receipt is idempotent.
		sum := sha256.Sum256([]byte(req.Receipt))
		resp := map[string]any{
			"id":       "gwo_" + hex.EncodeToString(sum[:8]),
			"amount":   req.Amount,
			"currency": req.Currency,
			"receipt":  req.Receipt,
			"status":   "created",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	slog.Info("gateway stub listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
