package fetcher

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrMarketContextShape is returned when neither the list-pair nor the dict layout matches.
var ErrMarketContextShape = errors.New("market context: unrecognised payload shape")

// ParseMarketContext accepts either the list-pair form `[meta, ctxs]` or the dict form
// `{"universe": [...], "assetContexts": [...]}`. Universe entries keep their index so
// contexts stay aligned; unusable entries come back with an empty name.
func ParseMarketContext(res gjson.Result) (*MarketContext, error) {
	var universe, ctxs gjson.Result

	switch {
	case res.IsArray():
		parts := res.Array()
		if len(parts) < 2 {
			return nil, ErrMarketContextShape
		}
		universe = parts[0].Get("universe")
		if parts[0].IsArray() {
			universe = parts[0]
		}
		ctxs = parts[1]
	case res.IsObject():
		universe = firstResult(res, "universe", "meta.universe")
		ctxs = firstResult(res, "assetContexts", "assetCtxs", "contexts")
	default:
		return nil, ErrMarketContextShape
	}

	if !universe.IsArray() || !ctxs.IsArray() {
		return nil, ErrMarketContextShape
	}

	mc := &MarketContext{}
	universe.ForEach(func(_, u gjson.Result) bool {
		name := ""
		switch {
		case u.Type == gjson.String:
			name = u.String()
		case u.IsObject():
			name = firstResult(u, "name", "symbol").String()
		}
		mc.Universe = append(mc.Universe, MarketAsset{Name: name})
		return true
	})
	ctxs.ForEach(func(_, c gjson.Result) bool {
		mc.AssetContexts = append(mc.AssetContexts, AssetContext{
			MarkPx:       firstResult(c, "markPx", "markPrice").String(),
			MidPx:        c.Get("midPx").String(),
			Funding:      firstResult(c, "funding", "fundingRate").String(),
			OpenInterest: c.Get("openInterest").String(),
		})
		return true
	})
	return mc, nil
}

// ParseMarketContextJSON is ParseMarketContext over raw bytes.
func ParseMarketContextJSON(raw []byte) (*MarketContext, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMarketContextShape
	}
	return ParseMarketContext(gjson.ParseBytes(raw))
}

func firstResult(res gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
