package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"promptforge-server/modules/promptforge"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "promptforge",
		Short: "PromptForge - image to creative prompt server",
		Long: `PromptForge analyzes an uploaded image with Gemini and returns a structured
analysis plus four creative prompts (realistic, fantastical, stylistic, cinematic).

Run without a subcommand to start the HTTP/WebSocket server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(newServeCmd(), newAnalyzeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRouter - 라우터 설정
// CORS는 라우터 바깥에서 감싼다 (매칭 라우트 없는 preflight도 처리)
func newRouter(h *promptforge.Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	h.RegisterRoutes(r)

	return enableCORS(r)
}

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "promptforge",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}
