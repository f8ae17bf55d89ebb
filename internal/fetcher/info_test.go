package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newInfoServer(t *testing.T, responses map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != infoPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		body, ok := responses[req.Type]
		if !ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown type " + req.Type})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestInfoFetchSpotBalances(t *testing.T) {
	srv := newInfoServer(t, map[string]any{
		"spotClearinghouseState": map[string]any{
			"balances": []map[string]any{
				{"coin": "USDC", "token": 0, "total": "100.5", "hold": "0", "entryNtl": "0"},
				{"coin": "HYPE", "token": 150, "total": "10", "hold": "1", "entryNtl": "250"},
			},
		},
	})
	defer srv.Close()

	info := NewInfo(InfoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	balances, err := info.FetchSpotBalances(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("fetch spot balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	if balances[1].Coin != "HYPE" || balances[1].Token != 150 || balances[1].EntryNtl != "250" {
		t.Fatalf("unexpected balance: %#v", balances[1])
	}
}

func TestInfoFetchPerpState(t *testing.T) {
	srv := newInfoServer(t, map[string]any{
		"clearinghouseState": map[string]any{
			"marginSummary":              map[string]string{"accountValue": "1000", "totalMarginUsed": "750"},
			"crossMaintenanceMarginUsed": "120",
			"withdrawable":               "250",
			"assetPositions": []map[string]any{
				{"type": "oneWay", "position": map[string]any{
					"coin": "ETH", "szi": "-10", "entryPx": "3000",
					"leverage":      map[string]any{"type": "cross", "value": 3},
					"liquidationPx": "4100", "unrealizedPnl": "-12.5",
				}},
			},
		},
	})
	defer srv.Close()

	info := NewInfo(InfoOptions{BaseURL: srv.URL}, noopLogger())
	state, err := info.FetchPerpState(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("fetch perp state: %v", err)
	}
	if state.MarginSummary.AccountValue != "1000" || state.MaintenanceMarginUsed != "120" {
		t.Fatalf("unexpected summary: %#v", state)
	}
	if len(state.AssetPositions) != 1 {
		t.Fatalf("expected one position")
	}
	pos := state.AssetPositions[0]
	if pos.Coin != "ETH" || pos.Size != "-10" || pos.Leverage != 3 {
		t.Fatalf("unexpected position: %#v", pos)
	}
}

func TestInfoFetchFundingHistory(t *testing.T) {
	srv := newInfoServer(t, map[string]any{
		"userFunding": []map[string]any{
			{"time": 1700000000000, "delta": map[string]any{"type": "funding", "coin": "ETH", "usdc": "1.25", "fundingRate": "0.0000125"}},
			{"time": 1700003600000, "delta": map[string]any{"type": "funding", "coin": "ETH", "usdc": "-0.5", "fundingRate": "-0.00001"}},
		},
	})
	defer srv.Close()

	info := NewInfo(InfoOptions{BaseURL: srv.URL}, noopLogger())
	events, err := info.FetchFundingHistory(context.Background(), "0xabc", time.UnixMilli(1690000000000))
	if err != nil {
		t.Fatalf("fetch funding: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Amount != "-0.5" || !events[1].Time.Equal(time.UnixMilli(1700003600000)) {
		t.Fatalf("unexpected event: %#v", events[1])
	}
}

func TestInfoHTTPError(t *testing.T) {
	srv := newInfoServer(t, map[string]any{})
	defer srv.Close()

	info := NewInfo(InfoOptions{BaseURL: srv.URL}, noopLogger())
	if _, err := info.FetchAllMids(context.Background()); err == nil {
		t.Fatal("HTTP 422 should return an error")
	}
}

func TestInfoFetchAllMids(t *testing.T) {
	srv := newInfoServer(t, map[string]any{
		"allMids": map[string]string{"BTC": "65000.5", "@107": "31.2", "BAD": "x"},
	})
	defer srv.Close()

	info := NewInfo(InfoOptions{BaseURL: srv.URL}, noopLogger())
	mids, err := info.FetchAllMids(context.Background())
	if err != nil {
		t.Fatalf("fetch mids: %v", err)
	}
	if mids["BTC"] != 65000.5 || mids["@107"] != 31.2 {
		t.Fatalf("unexpected mids: %#v", mids)
	}
	if _, ok := mids["BAD"]; ok {
		t.Fatal("unparseable mid should be dropped")
	}
}
