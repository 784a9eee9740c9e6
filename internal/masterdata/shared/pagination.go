package shared

// Default page window for master data lists.
const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// ListFilters carries the standard list query filters for master data.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool

	// Entity specific filters
	PlantID        *int64
	OrganizationID *int64
}
