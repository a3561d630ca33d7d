package ocds

import "encoding/json"

// releasePackage is the envelope returned by the release endpoint.
type releasePackage struct {
	Releases []json.RawMessage `json:"releases"`
	Links    *struct {
		Next string `json:"next"`
	} `json:"links"`
}

// Release is the subset of an OCDS release this service reads.
type Release struct {
	OCID   string        `json:"ocid"`
	ID     string        `json:"id"`
	Date   string        `json:"date"`
	Tag    []string      `json:"tag"`
	Tender *Tender       `json:"tender"`
	Buyer  *Organization `json:"buyer"`
}

type Tender struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	Value          *Amount `json:"value"`
	MinValue       *Amount `json:"minValue"`
	MaxValue       *Amount `json:"maxValue"`
	TenderPeriod   *Period `json:"tenderPeriod"`
	ContractPeriod *Period `json:"contractPeriod"`
	Items          []Item  `json:"items"`
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Amount struct {
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
}

type Period struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type Item struct {
	ID                string          `json:"id"`
	Classification    *Classification `json:"classification"`
	DeliveryAddresses []Address       `json:"deliveryAddresses"`
}

type Classification struct {
	Scheme      string `json:"scheme"`
	ID          string `json:"id"`
	Description string `json:"description"`
}

type Address struct {
	Region     string `json:"region"`
	PostalCode string `json:"postalCode"`
}
