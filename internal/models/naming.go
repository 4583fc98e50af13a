package models

// NamingTemplates holds a tenant's templates for objects created in the
// foreign ad server. Empty fields fall back to the built-in defaults.
type NamingTemplates struct {
	Order    string `json:"order_name_template,omitempty"`
	LineItem string `json:"line_item_name_template,omitempty"`
}

const (
	DefaultOrderNameTemplate    = "{campaign_name|promoted_offering} - {date_range}"
	DefaultLineItemNameTemplate = "{order_name} - {product_name}"
)

// OrderTemplate returns the tenant's order template or the default.
func (n NamingTemplates) OrderTemplate() string {
	if n.Order != "" {
		return n.Order
	}
	return DefaultOrderNameTemplate
}

// LineItemTemplate returns the tenant's line item template or the default.
func (n NamingTemplates) LineItemTemplate() string {
	if n.LineItem != "" {
		return n.LineItem
	}
	return DefaultLineItemNameTemplate
}
