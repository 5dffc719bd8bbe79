package pattern

import (
	"fmt"
	"strings"
	"time"

	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// Category classifies what a third-party service does.
type Category string

const (
	CategoryAnalytics        Category = "analytics"
	CategoryAdvertising      Category = "advertising"
	CategorySocial           Category = "social"
	CategoryCustomerSupport  Category = "customer-support"
	CategoryChat             Category = "chat"
	CategoryABTesting        Category = "ab-testing"
	CategoryCDN              Category = "cdn"
	CategoryCDP              Category = "cdp"
	CategoryTagManager       Category = "tag-manager"
	CategoryVideo            Category = "video"
	CategoryFonts            Category = "fonts"
	CategorySessionRecording Category = "session-recording"
	CategoryErrorTracking    Category = "error-tracking"
	CategoryConsent          Category = "consent"
	CategoryPayment          Category = "payment"
	CategoryPerformance      Category = "performance"
	CategoryMarketing        Category = "marketing"
	CategoryPush             Category = "push"
	CategorySurvey           Category = "survey"
	CategoryEcommerce        Category = "ecommerce"
	CategoryMaps             Category = "maps"
	CategorySecurity         Category = "security"
	CategoryOther            Category = "other"
)

var allCategories = []Category{
	CategoryAnalytics, CategoryAdvertising, CategorySocial, CategoryCustomerSupport,
	CategoryChat, CategoryABTesting, CategoryCDN, CategoryCDP, CategoryTagManager,
	CategoryVideo, CategoryFonts, CategorySessionRecording, CategoryErrorTracking,
	CategoryConsent, CategoryPayment, CategoryPerformance, CategoryMarketing,
	CategoryPush, CategorySurvey, CategoryEcommerce, CategoryMaps, CategorySecurity,
	CategoryOther,
}

// Categories returns every known category in declaration order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// NormalizeCategory lower-cases raw and maps unknown values to "other". The
// second return value is false when the input was unknown.
func NormalizeCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid() {
		return c, true
	}
	return CategoryOther, false
}

// Entry describes one known third-party service.
type Entry struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Vendor          string    `json:"vendor"`
	Category        Category  `json:"category"`
	URLPatterns     []string  `json:"url_patterns"`
	GlobalVariables []string  `json:"global_variables"`
	KnownIssues     []string  `json:"known_issues"`
	Alternatives    []string  `json:"alternatives"`
	DocsURL         *string   `json:"docs_url"`
	Active          bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the invariants every catalog entry must hold.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return sharedErrors.ErrEmptyPatternID
	}
	if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Vendor) == "" {
		return fmt.Errorf("%w: %s: name and vendor are required", sharedErrors.ErrInvalidPattern, e.ID)
	}
	if len(e.URLPatterns) == 0 {
		return fmt.Errorf("%w: %s", sharedErrors.ErrEmptyURLPatterns, e.ID)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: %s: %q", sharedErrors.ErrUnknownCategory, e.ID, e.Category)
	}
	return nil
}
