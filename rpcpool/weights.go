package rpcpool

import "math"

// NormalizeWeights returns a copy of endpoints where every non-active
// endpoint has weight 0 and the weights of active endpoints sum to exactly
// 100. A zero-sum active set is assigned equal integer shares; otherwise
// weights are scaled proportionally. The rounding residual goes to the
// active endpoint with the largest weight, first encountered on ties.
//
// The function is pure and idempotent: normalizing an already normalized
// list yields an identical list. Callers re-apply it on every structural
// change to the active set.
func NormalizeWeights(endpoints []Endpoint) []Endpoint {
	out := make([]Endpoint, len(endpoints))
	copy(out, endpoints)

	var active []*Endpoint
	sum := 0
	for i := range out {
		if !out[i].IsActive() {
			out[i].Weight = 0
			continue
		}
		active = append(active, &out[i])
		sum += out[i].Weight
	}

	if len(active) == 0 {
		return out
	}

	if sum == 0 {
		share := 100 / len(active)
		for _, ep := range active {
			ep.Weight = share
		}
	} else {
		for _, ep := range active {
			ep.Weight = int(math.Round(float64(ep.Weight) / float64(sum) * 100))
		}
	}

	rounded := 0
	for _, ep := range active {
		rounded += ep.Weight
	}
	if residual := 100 - rounded; residual != 0 {
		largest := active[0]
		for _, ep := range active[1:] {
			if ep.Weight > largest.Weight {
				largest = ep
			}
		}
		largest.Weight += residual
	}

	return out
}
