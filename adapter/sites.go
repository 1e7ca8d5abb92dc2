package adapter

// Sites returns the built-in site adapters in registry order.
func Sites() []*Site {
	return []*Site{
		{
			Host:   "funda.nl",
			Origin: "https://www.funda.nl",
			Ready:  ".search-result",
			Item:   ".search-result",
		},
		{
			Host:      "vbo.nl",
			Origin:    "https://www.vbo.nl",
			Ready:     "#propertiesWrapper",
			Container: "#propertiesWrapper .row",
			Marker:    "a div",
			Fresh:     Freshness{Tokens: []string{"nieuw"}},
		},
		{
			Host:      "huislijn.nl",
			Origin:    "https://www.huislijn.nl",
			Ready:     ".hl-search-object-display",
			Container: ".wrapper-objects",
			Item:      ".hl-search-object-display",
		},
		{
			Host:      "zah.nl",
			Origin:    "https://www.zah.nl",
			Ready:     "#koopwoningen",
			Container: "#koopwoningen",
			Item:      ".result",
			Marker:    ".date",
			Fresh:     Freshness{Tokens: []string{"1 dag"}},
		},
		{
			Host:      "pararius.nl",
			Origin:    "https://www.pararius.nl",
			Ready:     ".search-list__item--listing",
			Container: ".search-list",
			Item:      ".search-list__item--listing",
			Marker:    ".listing-label--new",
			Fresh:     Freshness{Tokens: []string{"nieuw", "new"}},
		},
		{
			Host:      "jaap.nl",
			Origin:    "https://www.jaap.nl",
			Ready:     ".property-list",
			Container: ".property-list",
			Item:      `[id^="house_"]`,
		},
		{
			Host:      "hoekstraenvaneck.nl",
			Origin:    "https://www.hoekstraenvaneck.nl",
			Ready:     ".overzicht",
			Container: ".overzicht",
			Item:      ".woning",
		},
	}
}
