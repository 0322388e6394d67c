package nftapi

import (
	"sort"
)

// PricePoint is one floor-price observation.
type PricePoint struct {
	// Timestamp is in Unix seconds
	Timestamp  int64   `json:"timestamp"`
	FloorPrice float64 `json:"floor_price"`
}

// FloorHistory is the floor-price history of a collection.
//
// Upstream returns either a price_history array or parallel timestamps and
// floorNative arrays; Points normalizes both.
type FloorHistory struct {
	Slug           string       `json:"slug,omitempty"`
	CollectionName string       `json:"collection_name"`
	PriceHistory   []PricePoint `json:"price_history"`
	Timestamps     []int64      `json:"timestamps,omitempty"`
	FloorNative    []float64    `json:"floorNative,omitempty"`
}

// Points returns the observations in timestamp order.
func (h *FloorHistory) Points() []PricePoint {
	var points []PricePoint
	if len(h.PriceHistory) > 0 {
		points = append(points, h.PriceHistory...)
	} else {
		n := min(len(h.Timestamps), len(h.FloorNative))
		points = make([]PricePoint, n)
		for i := 0; i < n; i++ {
			points[i] = PricePoint{Timestamp: h.Timestamps[i], FloorPrice: h.FloorNative[i]}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points
}

// CurrentFloor is the latest floor price of a collection.
type CurrentFloor struct {
	Slug       string  `json:"slug,omitempty"`
	FloorPrice float64 `json:"floor_price"`
	Currency   string  `json:"currency"`
}

// Collection is a search suggestion.
type Collection struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// SearchResult holds collection suggestions for a query.
type SearchResult struct {
	Query       string       `json:"query"`
	Collections []Collection `json:"collections"`
}

// CollectionDetails holds the collection metrics shown next to the charts.
type CollectionDetails struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	ImageURL    string  `json:"image_url,omitempty"`
	FloorPrice  float64 `json:"floor_price"`
	Currency    string  `json:"currency"`
	TotalSupply int     `json:"total_supply"`
	Owners      int     `json:"owners"`
	Volume24h   float64 `json:"volume_24h"`
	MarketCap   float64 `json:"market_cap"`
}

// Summary condenses a history into the figures shown in a comparison.
type Summary struct {
	First     float64 `json:"first"`
	Last      float64 `json:"last"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	ChangePct float64 `json:"change_pct"`
}

// Summarize computes the summary of points. Empty input yields a zero Summary.
func Summarize(points []PricePoint) Summary {
	if len(points) == 0 {
		return Summary{}
	}

	s := Summary{
		First: points[0].FloorPrice,
		Last:  points[len(points)-1].FloorPrice,
		Min:   points[0].FloorPrice,
		Max:   points[0].FloorPrice,
	}
	for _, p := range points[1:] {
		s.Min = min(s.Min, p.FloorPrice)
		s.Max = max(s.Max, p.FloorPrice)
	}
	if s.First != 0 {
		s.ChangePct = (s.Last - s.First) / s.First * 100
	}
	return s
}

// Series is one collection in a comparison.
type Series struct {
	Slug    string       `json:"slug"`
	Name    string       `json:"name"`
	Points  []PricePoint `json:"points"`
	Summary Summary      `json:"summary"`
}

// Comparison places two floor-price histories side by side.
type Comparison struct {
	Days   int      `json:"days"`
	Series []Series `json:"series"`
}
