package monitor

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HistoryRetention bounds how far back per-symbol history is kept, in seconds.
const HistoryRetention int64 = 8 * 3600

// HistoryPoint is one observation of a symbol. It encodes as [ts, price, oi_usd].
type HistoryPoint struct {
	TS    int64
	Price float64
	OIUSD float64
}

func (p HistoryPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{p.TS, p.Price, p.OIUSD})
}

func (p *HistoryPoint) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	pt, ok := parsePoint(res)
	if !ok {
		return fmt.Errorf("history point: expected [ts, price, oi], got %s", string(data))
	}
	*p = pt
	return nil
}

// State is the per-group document persisted between monitoring passes.
type State struct {
	History   map[string][]HistoryPoint `json:"history"`
	NegHours  map[string]float64        `json:"neg_hours"`
	Cooldowns map[string]int64          `json:"cooldowns"`
	UpdatedAt int64                     `json:"updated_at"`
}

// NewState returns an empty state with initialised maps.
func NewState() State {
	return State{
		History:   make(map[string][]HistoryPoint),
		NegHours:  make(map[string]float64),
		Cooldowns: make(map[string]int64),
	}
}

// Clone deep-copies s so callers can mutate the result freely. Nil maps become empty.
func (s State) Clone() State {
	out := NewState()
	out.UpdatedAt = s.UpdatedAt
	for sym, pts := range s.History {
		out.History[sym] = append([]HistoryPoint(nil), pts...)
	}
	for sym, h := range s.NegHours {
		out.NegHours[sym] = h
	}
	for key, ts := range s.Cooldowns {
		out.Cooldowns[key] = ts
	}
	return out
}

// Encode marshals the state document.
func (s State) Encode() ([]byte, error) {
	if s.History == nil || s.NegHours == nil || s.Cooldowns == nil {
		s = s.Clone()
	}
	return json.Marshal(s)
}

// DecodeState parses a persisted document. It never fails: an invalid document yields
// an empty state, and malformed entries inside a valid one are dropped.
func DecodeState(raw []byte) State {
	st := NewState()
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return st
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return st
	}

	doc.Get("history").ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		var pts []HistoryPoint
		for _, item := range value.Array() {
			if pt, ok := parsePoint(item); ok {
				pts = append(pts, pt)
			}
		}
		if len(pts) > 0 {
			sortPoints(pts)
			st.History[key.String()] = pts
		}
		return true
	})

	doc.Get("neg_hours").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			st.NegHours[key.String()] = value.Float()
		}
		return true
	})

	doc.Get("cooldowns").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			st.Cooldowns[key.String()] = value.Int()
		}
		return true
	})

	if v := doc.Get("updated_at"); v.Type == gjson.Number {
		st.UpdatedAt = v.Int()
	}
	return st
}

func parsePoint(item gjson.Result) (HistoryPoint, bool) {
	if !item.IsArray() {
		return HistoryPoint{}, false
	}
	arr := item.Array()
	if len(arr) < 3 {
		return HistoryPoint{}, false
	}
	for _, v := range arr[:3] {
		if v.Type != gjson.Number {
			return HistoryPoint{}, false
		}
	}
	return HistoryPoint{TS: arr[0].Int(), Price: arr[1].Float(), OIUSD: arr[2].Float()}, true
}

func sortPoints(pts []HistoryPoint) {
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].TS < pts[j].TS })
}
