// internal/models/order.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type Order struct {
	ID              string  `json:"id"`
	PaymentID       string  `json:"payment_id"`
	CustomerEmail   string  `json:"customer_email"`
	CustomerName    string  `json:"customer_name,omitempty"`
	ShippingAddress Address `json:"shipping_address"`

	Products []LineItem `json:"products"`

	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`

	// Keyed by artist id. The only field mutated after creation.
	Status map[string]FulfillmentStatus `json:"status"`

	CreatedAt    time.Time `json:"created_at"`
	DeliveryDate time.Time `json:"delivery_date"`
}

type LineItem struct {
	ProductID   string       `json:"product_id"`
	Title       string       `json:"title"`
	ArtistID    string       `json:"artist_id"`
	Size        string       `json:"size"`
	FrameOption FrameOption  `json:"frame_option"`
	FrameColor  string       `json:"frame_color,omitempty"`
	Quantity    int          `json:"quantity"`
	UnitPrice   float64      `json:"unit_price"`
	Units       []IssuedUnit `json:"identification_numbers"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (o *Order) ProductIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, li := range o.Products {
		if !seen[li.ProductID] {
			seen[li.ProductID] = true
			ids = append(ids, li.ProductID)
		}
	}
	return ids
}

// FindUnit looks up the issued unit with the given serial for a product.
func (o *Order) FindUnit(productID string, serial int) (*IssuedUnit, bool) {
	for _, li := range o.Products {
		if li.ProductID != productID {
			continue
		}
		for i := range li.Units {
			if li.Units[i].Serial == serial {
				return &li.Units[i], true
			}
		}
	}
	return nil, false
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Products = make([]LineItem, len(o.Products))
	for i, li := range o.Products {
		li.Units = append([]IssuedUnit(nil), li.Units...)
		c.Products[i] = li
	}
	c.Status = make(map[string]FulfillmentStatus, len(o.Status))
	for k, v := range o.Status {
		c.Status[k] = v
	}
	return &c
}

func (o Order) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *Order) Scan(value interface{}) error {
	return scanJSON(value, o)
}

type Customer struct {
	Email    string   `json:"email"`
	OrderIDs []string `json:"order_ids"`
}

// ReconciliationRecord captures an event whose inventory effects are not
// matched by a persisted order and need manual repair.
type ReconciliationRecord struct {
	ID                  string    `json:"id"`
	PaymentID           string    `json:"payment_id"`
	OrderID             string    `json:"order_id"`
	CommittedProductIDs []string  `json:"committed_product_ids"`
	FailedProductID     string    `json:"failed_product_id,omitempty"`
	Reason              string    `json:"reason"`
	Error               string    `json:"error"`
	CreatedAt           time.Time `json:"created_at"`
}

func (r ReconciliationRecord) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *ReconciliationRecord) Scan(value interface{}) error {
	return scanJSON(value, r)
}
