package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// parseMessage turns one socket frame into updates. Frames are either a
// single event object or an array of them.
func parseMessage(data []byte, now time.Time) ([]Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var events []wireEvent
	if data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, err
		}
	} else {
		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		events = []wireEvent{ev}
	}

	var out []Update
	for _, ev := range events {
		ts := parseTimestamp(ev.Timestamp, now)
		switch UpdateType(ev.EventType) {
		case UpdatePriceChange:
			for _, pc := range ev.PriceChanges {
				if pc.AssetID == "" {
					continue
				}
				out = append(out, Update{
					Type:      UpdatePriceChange,
					AssetID:   pc.AssetID,
					Price:     pointPrice(float64(pc.BestBid), float64(pc.BestAsk), float64(pc.Price)),
					BestBid:   float64(pc.BestBid),
					BestAsk:   float64(pc.BestAsk),
					Timestamp: ts,
				})
			}
			if len(ev.PriceChanges) == 0 && ev.AssetID != "" {
				out = append(out, Update{Type: UpdatePriceChange, AssetID: ev.AssetID, Price: float64(ev.Price), Timestamp: ts})
			}
		case UpdateBestBidAsk:
			out = append(out, Update{
				Type:      UpdateBestBidAsk,
				AssetID:   ev.AssetID,
				Price:     pointPrice(float64(ev.BestBid), float64(ev.BestAsk), 0),
				BestBid:   float64(ev.BestBid),
				BestAsk:   float64(ev.BestAsk),
				Timestamp: ts,
			})
		case UpdateLastTradePrice:
			out = append(out, Update{Type: UpdateLastTradePrice, AssetID: ev.AssetID, Price: float64(ev.Price), Timestamp: ts})
		case UpdateBook:
			bid := bestLevel(ev.Bids, true)
			ask := bestLevel(ev.Asks, false)
			out = append(out, Update{
				Type:      UpdateBook,
				AssetID:   ev.AssetID,
				Price:     pointPrice(bid, ask, 0),
				BestBid:   bid,
				BestAsk:   ask,
				Timestamp: ts,
			})
		}
	}
	return out, nil
}

func pointPrice(bid, ask, fallback float64) float64 {
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	if fallback > 0 {
		return fallback
	}
	if bid > 0 {
		return bid
	}
	return ask
}

func bestLevel(levels []priceLevel, highest bool) float64 {
	var best float64
	for i, l := range levels {
		p := float64(l.Price)
		if i == 0 || (highest && p > best) || (!highest && p < best) {
			best = p
		}
	}
	return best
}

func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return now
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	return time.UnixMilli(ms).UTC()
}
