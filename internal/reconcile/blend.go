package reconcile

import "github.com/tavern-games/tablesync/internal/wire"

// blendStates produces the interpolated view between two authoritative
// states at blend progress t. The blend is shallow: numeric leaves lerp,
// one level of nested objects blends at its own leaf granularity, and
// everything else holds the current value until t reaches 1, then snaps
// to the target. Malformed or mismatched shapes never panic; the rule is
// "prefer target at t=1, prefer current before".
func blendStates(current, target wire.State, t float64) wire.State {
	if t < 0 {
		t = 0
	}
	if t >= 1 {
		return cloneState(target)
	}
	if current == nil {
		current = wire.State{}
	}

	out := make(wire.State, len(current)+len(target))
	for key, cur := range current {
		tgt, ok := target[key]
		if !ok {
			// Gone from the target; held until the blend completes.
			out[key] = cur
			continue
		}
		out[key] = blendValue(cur, tgt, t)
	}
	// Fields absent from the current state stay absent until t reaches 1.
	return out
}

func blendValue(cur, tgt any, t float64) any {
	if c, cok := toFloat(cur); cok {
		if g, gok := toFloat(tgt); gok {
			return lerp(c, g, t)
		}
		return cur
	}

	curMap, cok := asMap(cur)
	tgtMap, gok := asMap(tgt)
	if cok && gok {
		nested := make(map[string]any, len(curMap))
		for key, cv := range curMap {
			tv, ok := tgtMap[key]
			if !ok {
				nested[key] = cv
				continue
			}
			if cf, fok := toFloat(cv); fok {
				if tf, fok2 := toFloat(tv); fok2 {
					nested[key] = lerp(cf, tf, t)
					continue
				}
			}
			// One level only; deeper structure holds.
			nested[key] = cv
		}
		return nested
	}

	return cur
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case wire.State:
		return m, true
	default:
		return nil, false
	}
}

// cloneState copies a state one nested level deep so callers can't alias
// the engine's internals.
func cloneState(s wire.State) wire.State {
	if s == nil {
		return wire.State{}
	}
	out := make(wire.State, len(s))
	for key, v := range s {
		if m, ok := asMap(v); ok {
			nested := make(map[string]any, len(m))
			for k, nv := range m {
				nested[k] = nv
			}
			out[key] = nested
			continue
		}
		out[key] = v
	}
	return out
}
