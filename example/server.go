package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	featurekit "github.com/featurekit/featurekit-go-client"
)

func main() {
	client, err := featurekit.New(os.Getenv("FEATUREKIT_SDK_KEY"))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID := q.Get("user")
		if userID == "" {
			http.Error(w, "user query parameter is required", http.StatusBadRequest)
			return
		}

		attributes := map[string]interface{}{}
		if age := q.Get("age"); age != "" {
			if n, err := strconv.Atoi(age); err == nil {
				attributes["age"] = n
			}
		}

		user := client.CreateUserContext(userID, attributes)
		decision := user.Decide("secret_button", featurekit.IncludeReasons)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"user":      userID,
			"enabled":   decision.Enabled,
			"variation": decision.VariationKey,
			"variables": decision.Variables,
			"reasons":   decision.Reasons,
		})
	})

	fmt.Printf("Starting server at port 5000\n")
	if err := http.ListenAndServe(":5000", nil); err != nil {
		log.Fatal(err)
	}
}
