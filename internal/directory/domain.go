// Package directory reads unit and complex display data owned by the
// platform's master-data service. The engine stores only foreign keys; names
// and owner details live here and are fetched for presentation.
package directory

// Complex is a residential complex.
type Complex struct {
	ID     int64
	Name   string
	Active bool
}

// Unit is one billable unit inside a complex.
type Unit struct {
	ID        int64
	ComplexID int64
	Label     string
	OwnerName string
}
