// internal/models/common.go
package models

import (
	"encoding/json"
	"errors"
)

// scanJSON decodes a JSONB column into dest.
func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("unsupported JSON column type")
	}
}

// Enums
type ProductStatus string

const (
	ProductStatusDraft   ProductStatus = "draft"
	ProductStatusActive  ProductStatus = "active"
	ProductStatusSoldOut ProductStatus = "sold_out"
	ProductStatusArchive ProductStatus = "archived"
)

type FulfillmentStatus string

const (
	FulfillmentStatusPending    FulfillmentStatus = "pending"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusShipped    FulfillmentStatus = "shipped"
	FulfillmentStatusDelivered  FulfillmentStatus = "delivered"
)

func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentStatusPending, FulfillmentStatusProcessing,
		FulfillmentStatusShipped, FulfillmentStatusDelivered:
		return true
	}
	return false
}

type FrameOption string

const (
	FrameOptionNone   FrameOption = "none"
	FrameOptionFramed FrameOption = "framed"
)
