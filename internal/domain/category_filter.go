package domain

// AllCategoriesSentinel is the wire value clients send to disable category filtering.
const AllCategoriesSentinel = "All"

// CategoryFilter restricts retrieval to a single category, or to none.
// The zero value matches every category.
type CategoryFilter struct {
	category string
}

// AnyCategory returns the filter that applies no category predicate.
func AnyCategory() CategoryFilter {
	return CategoryFilter{}
}

// CategoryEquals returns a filter matching rows whose category equals c.
// An empty c is the same as AnyCategory.
func CategoryEquals(c string) CategoryFilter {
	return CategoryFilter{category: c}
}

// ParseCategoryFilter maps the wire representation to a filter.
// "" and "All" both mean no filter.
func ParseCategoryFilter(raw string) CategoryFilter {
	if raw == "" || raw == AllCategoriesSentinel {
		return AnyCategory()
	}
	return CategoryEquals(raw)
}

// IsAny reports whether the filter applies no predicate.
func (f CategoryFilter) IsAny() bool {
	return f.category == ""
}

// Category returns the category to match. It is empty when IsAny is true.
func (f CategoryFilter) Category() string {
	return f.category
}

// String implements fmt.Stringer for logging.
func (f CategoryFilter) String() string {
	if f.IsAny() {
		return "*"
	}
	return f.category
}
