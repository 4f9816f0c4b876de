package llm

import (
	"strconv"
	"strings"

	"github.com/receipt-tracking/ingestion/constants"
)

// categoryDefinitions gives the model a short rubric per taxonomy label.
var categoryDefinitions = map[constants.Category]string{
	constants.Groceries:               "Food, beverages, household essentials from supermarkets or grocery stores",
	constants.DiningAndRestaurants:    "Meals at restaurants, cafes, fast food, takeout",
	constants.TransportationAndTravel: "Fuel, ride-sharing, public transport, flights, hotels, tolls",
	constants.RetailAndShopping:       "Clothing, shoes, accessories, electronics, general merchandise",
	constants.HealthcareAndPharmacy:   "Medicines, doctor visits, insurance co-pays, medical supplies",
	constants.Utilities:               "Electricity, water, gas, internet, phone services",
	constants.EntertainmentAndSubs:    "Movies, streaming services, books, games, event tickets",
	constants.HomeAndFurniture:        "Furniture, appliances, home decor, repair materials",
	constants.PersonalCare:            "Salon services, cosmetics, hygiene products",
	constants.EducationAndOffice:      "Books, stationery, tuition, online courses",
	constants.FitnessAndSports:        "Gym memberships, sports equipment, wellness products",
	constants.GiftsAndDonations:       "Charity donations, birthday/holiday gifts",
	constants.Pets:                    "Pet food, veterinary services, grooming",
	constants.Automotive:              "Car maintenance, parts, accessories",
	constants.Miscellaneous:           "Uncategorized or rare items",
}

// BuildPrompt embeds the OCR text, the fixed field list, and the closed
// category taxonomy with definitions, and instructs the model to answer with
// a JSON object only.
func BuildPrompt(ocrText string) string {
	var b strings.Builder

	b.WriteString("You are a specialized receipt parser. I'll provide you with raw OCR text extracted from a receipt image.\n")
	b.WriteString("Extract the following information in JSON format:\n")
	b.WriteString("- store_name: The name of the store/business\n")
	b.WriteString("- store_address: The full address of the store\n")
	b.WriteString("- date: The purchase date in YYYY-MM-DD format\n")
	b.WriteString("- time: The purchase time\n")
	b.WriteString("- total_amount: The total amount paid (just the number, without currency symbols)\n")
	b.WriteString("- categories: A list of one or more categories that best describe this transaction\n\n")
	b.WriteString("For any fields you cannot confidently extract, use null.\n\n")

	b.WriteString("For the categories field, you must ONLY use values from this specific list:\n")
	for i, label := range constants.AsStringSlice() {
		b.WriteString(strconv.Itoa(i+1) + ". \"" + label + "\" - " + categoryDefinitions[constants.Category(label)] + "\n")
	}
	b.WriteString("\nBased on the store name and items purchased (if available), assign one or more categories from this list. ")
	b.WriteString("If you're unsure, use \"Miscellaneous\".\n\n")

	b.WriteString("Here's the OCR text from the receipt:\n```\n")
	b.WriteString(ocrText)
	b.WriteString("\n```\n\n")

	b.WriteString("Respond with a JSON object containing only these fields, nothing else.\n")
	b.WriteString("Example format:\n")
	b.WriteString(`{
  "store_name": "Example Store",
  "store_address": "123 Main St, City, State ZIP",
  "date": "2023-01-01",
  "time": "14:30",
  "total_amount": 42.99,
  "categories": ["Groceries", "Personal Care"]
}`)

	return b.String()
}
