// Package stream defines watchable live streams and their ticket price.
package stream

import (
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/types"
)

// Stream is a priced live stream identified by its URL.
type Stream struct {
	types.Entity
	ID          id.StreamID `json:"id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	OwnerID     string      `json:"owner_id,omitempty"`
	Price       types.Money `json:"price"`
	Active      bool        `json:"active"`
}

// PlaceholderTitle names streams priced on the fly for unknown URLs.
const PlaceholderTitle = "Unknown Stream"

// Placeholder builds an unpersisted stream for a URL with no catalogue entry.
func Placeholder(url string, price types.Money) *Stream {
	return &Stream{
		URL:    url,
		Title:  PlaceholderTitle,
		Price:  price,
		Active: true,
	}
}
