package constants

// Category is one of the fixed spending-category labels a receipt may carry.
type Category string

const (
	Groceries               Category = "Groceries"
	DiningAndRestaurants    Category = "Dining & Restaurants"
	TransportationAndTravel Category = "Transportation & Travel"
	RetailAndShopping       Category = "Retail & Shopping"
	HealthcareAndPharmacy   Category = "Healthcare & Pharmacy"
	Utilities               Category = "Utilities"
	EntertainmentAndSubs    Category = "Entertainment & Subscriptions"
	HomeAndFurniture        Category = "Home & Furniture"
	PersonalCare            Category = "Personal Care"
	EducationAndOffice      Category = "Education & Office Supplies"
	FitnessAndSports        Category = "Fitness & Sports"
	GiftsAndDonations       Category = "Gifts & Donations"
	Pets                    Category = "Pets"
	Automotive              Category = "Automotive"
	Miscellaneous           Category = "Miscellaneous"
)

var allCategories = []Category{
	Groceries,
	DiningAndRestaurants,
	TransportationAndTravel,
	RetailAndShopping,
	HealthcareAndPharmacy,
	Utilities,
	EntertainmentAndSubs,
	HomeAndFurniture,
	PersonalCare,
	EducationAndOffice,
	FitnessAndSports,
	GiftsAndDonations,
	Pets,
	Automotive,
	Miscellaneous,
}

var categorySet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(allCategories))
	for _, c := range allCategories {
		m[string(c)] = struct{}{}
	}
	return m
}()

// AsStringSlice returns the closed category taxonomy in prompt order.
func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// IsValidCategory reports whether label is an exact member of the taxonomy.
// Matching is case-sensitive: the model is instructed to echo the labels
// verbatim, and anything else is filtered out.
func IsValidCategory(label string) bool {
	_, ok := categorySet[label]
	return ok
}
