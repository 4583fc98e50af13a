// Package naming renders tenant-configured templates into names for objects
// created in the foreign ad server.
//
// Templates contain {var} placeholders and fallback chains {var1|var2|...}.
// A chain substitutes the first variable that is present and non-empty; when
// none is, the placeholder renders as the empty string. Rendering never fails.
package naming

import (
	"fmt"
	"strings"
	"time"
)

// Render resolves every placeholder in template against vars.
func Render(template string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			// unterminated placeholder is literal text
			b.WriteString(rest)
			break
		}
		end += open + 1

		b.WriteString(rest[:open])
		b.WriteString(resolve(rest[open+1:end], vars))
		rest = rest[end+1:]
	}
	return b.String()
}

// resolve evaluates a placeholder body left to right.
func resolve(chain string, vars map[string]string) string {
	for _, name := range strings.Split(chain, "|") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if v, ok := vars[name]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// FormatDateRange renders a flight compactly:
//
//	same month and year: "Jan 5–20, 2025"
//	same year:           "Jan 5 – Feb 20, 2025"
//	different years:     "Dec 15, 2024 – Jan 10, 2025"
//
// Either bound being zero yields "".
func FormatDateRange(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return ""
	}
	switch {
	case start.Year() == end.Year() && start.Month() == end.Month():
		return fmt.Sprintf("%s %d–%d, %d", start.Format("Jan"), start.Day(), end.Day(), start.Year())
	case start.Year() == end.Year():
		return start.Format("Jan 2") + " – " + end.Format("Jan 2, 2006")
	default:
		return start.Format("Jan 2, 2006") + " – " + end.Format("Jan 2, 2006")
	}
}

// Context carries the request data available to templates.
type Context struct {
	CampaignName     string
	PromotedOffering string
	BuyerRef         string
	ProductName      string
	OrderName        string
	MediaBuyID       string
	PackageID        string
	TenantName       string
	Start            time.Time
	End              time.Time
	PackageCount     int
}

// Variables flattens c into template variables, including the built-ins
// date_range, month_year, start_date, end_date and auto_name. Missing inputs are simply
// absent so fallback chains can skip them.
func (c Context) Variables() map[string]string {
	vars := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			vars[k] = v
		}
	}
	set("campaign_name", c.CampaignName)
	set("promoted_offering", c.PromotedOffering)
	set("buyer_ref", c.BuyerRef)
	set("product_name", c.ProductName)
	set("order_name", c.OrderName)
	set("media_buy_id", c.MediaBuyID)
	set("package_id", c.PackageID)
	set("tenant_name", c.TenantName)
	set("date_range", FormatDateRange(c.Start, c.End))
	if !c.Start.IsZero() {
		set("month_year", c.Start.Format("Jan 2006"))
		set("start_date", c.Start.Format("2006-01-02"))
	}
	if !c.End.IsZero() {
		set("end_date", c.End.Format("2006-01-02"))
	}
	for _, k := range []string{"campaign_name", "promoted_offering", "buyer_ref", "media_buy_id"} {
		if v, ok := vars[k]; ok {
			vars["auto_name"] = v
			break
		}
	}
	if c.PackageCount > 0 {
		set("package_count", fmt.Sprintf("%d", c.PackageCount))
	}
	return vars
}
