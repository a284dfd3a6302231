package model

import (
	"gorm.io/datatypes"
)

// StrategyRecord is the stored form of one strategy. ConfigJSON holds the
// submitted configuration verbatim (including opaque entry_conditions);
// HealthJSON holds the serialized health record saved with every state
// transition.
type StrategyRecord struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Name            string         `gorm:"column:name;uniqueIndex"`
	Kind            string         `gorm:"column:kind;index"`
	Symbol          string         `gorm:"column:symbol"`
	ConfigJSON      datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	State           string         `gorm:"column:state;index"`
	HealthJSON      datatypes.JSON `gorm:"column:health_json;type:TEXT"`
	CheckIntervalMS int64          `gorm:"column:check_interval_ms"`
	LastCheckedUnix int64          `gorm:"column:last_checked_at"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
}

func (StrategyRecord) TableName() string { return "strategies" }

// OrderRecord is one append-only order fact. Prices and quantities are
// stored as strings to keep decimal values exact.
type OrderRecord struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID       string `gorm:"column:order_id;uniqueIndex"`
	ClientOrderID string `gorm:"column:client_order_id"`
	StrategyID    string `gorm:"column:strategy_id;index"`
	Symbol        string `gorm:"column:symbol"`
	Side          string `gorm:"column:side"`
	Price         string `gorm:"column:price"`
	Quantity      string `gorm:"column:quantity"`
	PlacedAtUnix  int64  `gorm:"column:placed_at"`
}

func (OrderRecord) TableName() string { return "orders" }

// ErrorEventRecord is one structured operator-facing error event. Context
// bundles the strategy configuration, the market state at failure time and
// the preceding error kinds.
type ErrorEventRecord struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyID   string         `gorm:"column:strategy_id;index"`
	StrategyName string         `gorm:"column:strategy_name"`
	ErrorKind    string         `gorm:"column:error_kind"`
	Severity     string         `gorm:"column:severity"`
	Message      string         `gorm:"column:message"`
	ContextJSON  datatypes.JSON `gorm:"column:context_json;type:TEXT"`
	CreatedAtUnix int64         `gorm:"column:created_at;index"`
}

func (ErrorEventRecord) TableName() string { return "error_events" }
