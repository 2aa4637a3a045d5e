// Package instance defines the database instance model shared by rdswitch components.
package instance

// Lifecycle statuses the transitioner acts on. RDS reports many more
// (starting, stopping, modifying, backing-up...), those are carried verbatim.
const (
	StatusAvailable = "available"
	StatusStopped   = "stopped"
)

// Instance is a managed database instance as returned by the inventory.
type Instance struct {
	ID     string `json:"id" yaml:"id"`                             // DB instance identifier (e.g., "orders-db")
	ARN    string `json:"arn" yaml:"arn"`                           // Stable reference used for tag lookups
	Status string `json:"status" yaml:"status"`                     // Current lifecycle status
	Engine string `json:"engine,omitempty" yaml:"engine,omitempty"` // e.g., "postgres"
	Class  string `json:"class,omitempty" yaml:"class,omitempty"`   // e.g., "db.t3.micro"
}

// Tag is a single key/value pair attached to an instance.
type Tag struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}
