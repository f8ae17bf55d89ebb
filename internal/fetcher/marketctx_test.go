package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseMarketContextListPair(t *testing.T) {
	raw := []byte(`[
		{"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH"},{}]},
		[{"markPx":"65000","funding":"0.0000125","openInterest":"1000"},
		 {"markPx":"3000","funding":"-0.0001","openInterest":"20000"},
		 {"markPx":"1"}]
	]`)
	mc, err := ParseMarketContextJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mc.Universe) != 3 || len(mc.AssetContexts) != 3 {
		t.Fatalf("expected aligned lengths, got %d/%d", len(mc.Universe), len(mc.AssetContexts))
	}
	if mc.Universe[1].Name != "ETH" || mc.AssetContexts[1].Funding != "-0.0001" {
		t.Fatalf("misaligned entry: %#v %#v", mc.Universe[1], mc.AssetContexts[1])
	}
	if mc.Universe[2].Name != "" {
		t.Fatal("invalid universe entry should keep an empty name")
	}
}

func TestParseMarketContextDict(t *testing.T) {
	raw := []byte(`{"universe":[{"symbol":"SOL"}],"assetContexts":[{"markPrice":"150","fundingRate":"0.0002","openInterest":"10"}]}`)
	mc, err := ParseMarketContextJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mc.Universe[0].Name != "SOL" || mc.AssetContexts[0].MarkPx != "150" || mc.AssetContexts[0].Funding != "0.0002" {
		t.Fatalf("unexpected dict parse: %#v", mc)
	}
}

func TestParseMarketContextRejectsUnknownShape(t *testing.T) {
	for _, raw := range []string{`"x"`, `[1]`, `{"foo":1}`, `not json`} {
		if _, err := ParseMarketContextJSON([]byte(raw)); !errors.Is(err, ErrMarketContextShape) {
			t.Fatalf("%s: expected shape error, got %v", raw, err)
		}
	}
}

type stubMeta struct {
	meta  SpotMeta
	err   error
	calls int
}

func (s *stubMeta) FetchSpotMeta(context.Context) (SpotMeta, error) {
	s.calls++
	return s.meta, s.err
}

func TestSpotSymbolsResolve(t *testing.T) {
	src := &stubMeta{meta: SpotMeta{
		Tokens: []SpotToken{{Name: "USDC", Index: 0}, {Name: "PURR", Index: 1}, {Name: "UBTC", Index: 197}},
		Universe: []SpotPair{
			{Name: "PURR/USDC", Index: 0, Tokens: [2]int{1, 0}},
			{Name: "@142", Index: 142, Tokens: [2]int{197, 0}},
		},
	}}
	res := NewSpotSymbols(src, SpotSymbolsOptions{Refresh: time.Hour, Aliases: map[string]string{"ubtc": "btc"}}, noopLogger())
	ctx := context.Background()

	if sym, ext := res.ResolveSymbolName(ctx, "UBTC", true); sym != "BTC" || ext != "@142" {
		t.Fatalf("UBTC resolved to %q/%q", sym, ext)
	}
	if sym, ext := res.ResolveSymbolName(ctx, "@142", true); sym != "BTC" || ext != "@142" {
		t.Fatalf("@142 resolved to %q/%q", sym, ext)
	}
	if sym, ext := res.ResolveSymbolName(ctx, "PURR", true); sym != "PURR" || ext != "PURR/USDC" {
		t.Fatalf("PURR resolved to %q/%q", sym, ext)
	}
	if sym, _ := res.ResolveSymbolName(ctx, "@999", true); sym != "" {
		t.Fatalf("unknown pair should be unresolvable, got %q", sym)
	}
	if sym, ext := res.ResolveSymbolName(ctx, "ETH", false); sym != "ETH" || ext != "" {
		t.Fatalf("perp coin should pass through, got %q/%q", sym, ext)
	}
	if src.calls != 1 {
		t.Fatalf("spot meta should load once within refresh, loaded %d times", src.calls)
	}
}

type stubMids struct {
	mids  map[string]float64
	calls int
}

func (s *stubMids) FetchAllMids(context.Context) (map[string]float64, error) {
	s.calls++
	return s.mids, nil
}

func TestMidPricesTTL(t *testing.T) {
	src := &stubMids{mids: map[string]float64{"ETH": 3000, "@142": 65000}}
	mp := NewMidPrices(src, time.Minute, noopLogger())
	now := time.Unix(1_700_000_000, 0)
	mp.now = func() time.Time { return now }

	ctx := context.Background()
	if px, ok := mp.FetchMid(ctx, "eth", ""); !ok || px != 3000 {
		t.Fatalf("expected ETH mid, got %v %v", px, ok)
	}
	if px, ok := mp.FetchMid(ctx, "UBTC", "@142"); !ok || px != 65000 {
		t.Fatalf("expected external id fallback, got %v %v", px, ok)
	}
	if _, ok := mp.FetchMid(ctx, "NOPE", ""); ok {
		t.Fatal("unknown symbol should miss")
	}
	if src.calls != 1 {
		t.Fatalf("expected one fetch within ttl, got %d", src.calls)
	}

	now = now.Add(2 * time.Minute)
	mp.FetchMid(ctx, "ETH", "")
	if src.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d", src.calls)
	}
}
