package types

// Well-known categories. Callers may supply any other non-empty label.
const (
	CategoryFinding       = "finding"
	CategoryMethod        = "method"
	CategoryRelationship  = "relationship"
	CategoryComprehensive = "comprehensive"
)

// DefaultCategory is applied to chunks produced by plain segmentation.
const DefaultCategory = CategoryFinding
