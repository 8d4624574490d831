package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenOracle-Chain/sdk/go/openoracle"
)

const demoAssertionID = "0x1111111111111111111111111111111111111111111111111111111111111111"

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/assertions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(openoracle.Assertion{
				ID:        demoAssertionID,
				MarketID:  "0x5150000000000000000000000000000000000000000000000000000000000000",
				Outcome:   "Yes",
				Asserter:  7,
				Bond:      big.NewInt(1500),
				Volume:    big.NewInt(50_000),
				Status:    openoracle.StatusPending,
				ExpiresAt: time.Now().Add(2 * time.Hour).Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/assertions/"+demoAssertionID, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openoracle.Assertion{
			ID:       demoAssertionID,
			MarketID: "0x5150000000000000000000000000000000000000000000000000000000000000",
			Outcome:  "Yes",
			Asserter: 7,
			Bond:     big.NewInt(1500),
			Volume:   big.NewInt(50_000),
			Status:   openoracle.StatusResolved,
			Payout:   &openoracle.Payout{Winner: 7, Amount: big.NewInt(1500)},
		})
	})
	mux.HandleFunc("/api/v1/agents/7/accuracy", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openoracle.Accuracy{AgentID: 7, AccuracyBps: 10_000})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := openoracle.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.OpenAssertion(ctx, openoracle.OpenRequest{
		MarketID: "0x5150000000000000000000000000000000000000000000000000000000000000",
		Outcome:  "Yes",
		Asserter: 7,
		Bond:     big.NewInt(1500),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("opened assertion %s (status=%s)\n", created.ID, created.Status)

	settled, err := client.WaitUntilSettled(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("assertion settled as %s, payout winner=%d amount=%s\n", settled.Status, settled.Payout.Winner, settled.Payout.Amount)

	accuracy, err := client.GetAccuracy(ctx, settled.Asserter)
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent %d accuracy: %d bps\n", accuracy.AgentID, accuracy.AccuracyBps)
}
