package odata

import (
	"fmt"
	"strings"
)

// ProductType selects the query-parameter dialect of the remote API.
type ProductType string

const (
	// ProductDataverse is the cloud multitenant variant.
	ProductDataverse ProductType = "dataverse"

	// ProductFinOps is the Finance & Operations (on-premises) variant.
	ProductFinOps ProductType = "finops"
)

// ParseProduct parses a configuration string into a ProductType.
func ParseProduct(s string) (ProductType, error) {
	switch strings.ToLower(s) {
	case "dataverse":
		return ProductDataverse, nil
	case "finops", "fno", "fo":
		return ProductFinOps, nil
	default:
		return "", fmt.Errorf("unknown product type %q (use 'dataverse' or 'finops')", s)
	}
}

// QueryOptions holds the supported OData query parameters. Zero values
// are omitted from the query string. Values are passed through
// verbatim; callers are responsible for pre-escaping free-text filter
// expressions.
type QueryOptions struct {
	Select  []string
	Filter  string
	Top     int
	Skip    int
	OrderBy string
	Expand  []string

	// CrossCompany requests results spanning legal entities. Only
	// honored for the Finance & Operations dialect.
	CrossCompany bool

	// Count requests an inline @odata.count in the response.
	Count bool
}

// QueryString renders the options as an OData query string, or the
// empty string when no option is set.
func (o *QueryOptions) QueryString(product ProductType) string {
	if o == nil {
		return ""
	}

	var params []string

	if len(o.Select) > 0 {
		params = append(params, "$select="+strings.Join(o.Select, ","))
	}
	if o.Filter != "" {
		params = append(params, "$filter="+o.Filter)
	}
	if o.Top > 0 {
		params = append(params, fmt.Sprintf("$top=%d", o.Top))
	}
	if o.Skip > 0 {
		params = append(params, fmt.Sprintf("$skip=%d", o.Skip))
	}
	if o.OrderBy != "" {
		params = append(params, "$orderby="+o.OrderBy)
	}
	if len(o.Expand) > 0 {
		params = append(params, "$expand="+strings.Join(o.Expand, ","))
	}
	if o.Count {
		params = append(params, "$count=true")
	}

	// The Dataverse dialect has no cross-company concept; the flag is
	// silently ignored there.
	if o.CrossCompany && product == ProductFinOps {
		params = append(params, "cross-company=true")
	}

	if len(params) == 0 {
		return ""
	}
	return "?" + strings.Join(params, "&")
}
