// internal/models/product.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type Product struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	ArtistID    string        `json:"artist_id"`
	Images      []string      `json:"images,omitempty"`
	Status      ProductStatus `json:"status"`
	Sizes       []SizeEntry   `json:"sizes"`

	// Append-only. Every unit ever sold, across all sizes.
	IdentificationNumbers []IssuedUnit `json:"identification_numbers"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SizeEntry holds stock, price and the serial counter of one print size.
// Stock stays within [0, InitialStock] and NextSerial is always the count
// of units issued for the size plus one.
type SizeEntry struct {
	Size         string  `json:"size"`
	Price        float64 `json:"price"`
	Stock        int     `json:"stock"`
	InitialStock int     `json:"initial_stock"`
	NextSerial   int     `json:"next_serial"`
}

// IssuedUnit is one numbered, physically sold copy. Immutable once written.
type IssuedUnit struct {
	Serial      int         `json:"serial"`
	Size        string      `json:"size"`
	FrameOption FrameOption `json:"frame_option"`
	FrameColor  string      `json:"frame_color,omitempty"`
	ProductID   string      `json:"product_id"`
	OrderID     string      `json:"order_id"`
	PaymentID   string      `json:"payment_id"`
}

// Size returns a pointer into p.Sizes so callers can mutate the entry in place.
func (p *Product) Size(label string) (*SizeEntry, bool) {
	for i := range p.Sizes {
		if p.Sizes[i].Size == label {
			return &p.Sizes[i], true
		}
	}
	return nil, false
}

func (p *Product) UnitsForOrder(orderID string) []IssuedUnit {
	var units []IssuedUnit
	for _, u := range p.IdentificationNumbers {
		if u.OrderID == orderID {
			units = append(units, u)
		}
	}
	return units
}

func (p *Product) InStock() bool {
	for _, s := range p.Sizes {
		if s.Stock > 0 {
			return true
		}
	}
	return false
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = append([]string(nil), p.Images...)
	c.Sizes = append([]SizeEntry(nil), p.Sizes...)
	c.IdentificationNumbers = append([]IssuedUnit(nil), p.IdentificationNumbers...)
	return &c
}

func (p Product) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Product) Scan(value interface{}) error {
	return scanJSON(value, p)
}
