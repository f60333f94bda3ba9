package internal

import "github.com/shopspring/decimal"

type Flag string

const (
	FlagGreen  Flag = "green"
	FlagYellow Flag = "yellow"
	FlagRed    Flag = "red"
)

type WorkingMode string

const (
	ModeOff    WorkingMode = "off"
	ModeAuto   WorkingMode = "auto"
	ModeHybrid WorkingMode = "hybrid"
)

// UnknownSupplier is reported when no supplier label is found in the PO header.
const UnknownSupplier = "Unknown"

type LineItem struct {
	LineNo      int
	Qty         *decimal.Decimal
	SKU         string
	Description string
	RawRow      []string
}

type Extraction struct {
	Supplier string
	Items    []LineItem
}

type Product struct {
	WarehouseCode string `json:"warehouseCode"`
	Description   string `json:"description"`
}

type Mapping struct {
	Supplier      string `json:"supplier"`
	SupplierSKU   string `json:"supplierSku"`
	WarehouseCode string `json:"warehouseCode"`
}

type MatchRow struct {
	SKU           string  `json:"sku"`
	Description   string  `json:"description"`
	WarehouseCode *string `json:"warehouseCode"`
	Flag          Flag    `json:"flag"`
	Score         int     `json:"score"`
}

type ReviewStats struct {
	Green  int `json:"green"`
	Yellow int `json:"yellow"`
	Red    int `json:"red"`
}

type ReviewPayload struct {
	File     string      `json:"file"`
	Supplier string      `json:"supplier"`
	Rows     []MatchRow  `json:"rows"`
	Stats    ReviewStats `json:"stats"`
}

type RegistryRow struct {
	Product
	Mappings []Mapping
}

type RunRecord struct {
	ID         string
	File       string
	Supplier   string
	Outcome    string
	Stats      ReviewStats
	DurationMs int64
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
