package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
)

func main() {
	// Default port
	port := "9000"

	// Check if port is provided as command line argument
	if len(os.Args) > 1 {
		port = os.Args[1]
	}

	idp := NewIdentityProvider(
		envOr("MOCK_CLIENT_ID", "demo-client"),
		envOr("MOCK_CLIENT_SECRET", "demo-secret"),
	)

	mux := http.NewServeMux()
	idp.Register(mux)

	addr := fmt.Sprintf(":%s", port)
	fmt.Printf("Mock identity provider running on port %s...\n", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
