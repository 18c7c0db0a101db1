package ebay

import (
	"encoding/xml"
	"time"
)

// GetSellerListRequest is the Trading API request body.
type GetSellerListRequest struct {
	XMLName          xml.Name   `xml:"urn:ebay:apis:eBLBaseComponents GetSellerListRequest"`
	GranularityLevel string     `xml:"GranularityLevel"`
	EndTimeFrom      time.Time  `xml:"EndTimeFrom"`
	EndTimeTo        time.Time  `xml:"EndTimeTo"`
	Pagination       Pagination `xml:"Pagination"`
}

type Pagination struct {
	EntriesPerPage int `xml:"EntriesPerPage"`
	PageNumber     int `xml:"PageNumber"`
}

// GetSellerListResponse represents the Trading API response structure.
// ItemArray is a pointer so that an absent collection can be told apart
// from an empty one.
type GetSellerListResponse struct {
	XMLName                 xml.Name          `xml:"GetSellerListResponse"`
	Ack                     string            `xml:"Ack"`
	Errors                  []APIError        `xml:"Errors"`
	PaginationResult        *PaginationResult `xml:"PaginationResult"`
	HasMoreItems            bool              `xml:"HasMoreItems"`
	ItemArray               *ItemArray        `xml:"ItemArray"`
	ItemsPerPage            int               `xml:"ItemsPerPage"`
	PageNumber              int               `xml:"PageNumber"`
	ReturnedItemCountActual int               `xml:"ReturnedItemCountActual"`
}

type APIError struct {
	ShortMessage string `xml:"ShortMessage"`
	LongMessage  string `xml:"LongMessage"`
	ErrorCode    string `xml:"ErrorCode"`
	SeverityCode string `xml:"SeverityCode"`
}

type PaginationResult struct {
	TotalNumberOfPages   int `xml:"TotalNumberOfPages"`
	TotalNumberOfEntries int `xml:"TotalNumberOfEntries"`
}

type ItemArray struct {
	Items []Item `xml:"Item"`
}

type Item struct {
	ItemID          string          `xml:"ItemID"`
	Title           string          `xml:"Title"`
	PrimaryCategory PrimaryCategory `xml:"PrimaryCategory"`
	SellingStatus   SellingStatus   `xml:"SellingStatus"`
	PictureDetails  PictureDetails  `xml:"PictureDetails"`
	ListingDetails  ListingDetails  `xml:"ListingDetails"`
}

type PrimaryCategory struct {
	CategoryID   string `xml:"CategoryID"`
	CategoryName string `xml:"CategoryName"`
}

type SellingStatus struct {
	CurrentPrice  *Amount `xml:"CurrentPrice"`
	ListingStatus string  `xml:"ListingStatus"`
	QuantitySold  int     `xml:"QuantitySold"`
}

// Amount is a monetary value with its optional currencyID attribute.
type Amount struct {
	Value      string `xml:",chardata"`
	CurrencyID string `xml:"currencyID,attr"`
}

type PictureDetails struct {
	GalleryURL string   `xml:"GalleryURL"`
	PictureURL []string `xml:"PictureURL"`
}

type ListingDetails struct {
	ViewItemURL string `xml:"ViewItemURL"`
}
