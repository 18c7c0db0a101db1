package ebay

import (
	"encoding/xml"
	"strconv"
	"strings"

	"listing_sync/internal/domain"
)

const maxRawExcerpt = 1024

// ParsedPage is the outcome of interpreting one response document:
// PageOK, PageMalformed or PageRejected.
type ParsedPage interface {
	parsedPage()
}

type PageOK struct {
	Listings     []domain.Listing
	TotalEntries int
	TotalPages   int
	HasMoreItems bool
}

// PageMalformed is a document that cannot be trusted, as opposed to a
// legitimately empty page.
type PageMalformed struct {
	Raw    string
	Reason string
}

// PageRejected is the API's own Ack=Failure answer.
type PageRejected struct {
	Code    string
	Message string
}

func (PageOK) parsedPage()        {}
func (PageMalformed) parsedPage() {}
func (PageRejected) parsedPage()  {}

// Token errors reported by the Trading API inside an Ack=Failure document.
var authErrorCodes = map[string]bool{
	"931":      true, // auth token is invalid
	"932":      true, // auth token is hard expired
	"16110":    true, // token revoked
	"21916984": true, // token expired
	"21917053": true, // IAF token invalid
}

func parsePage(body []byte, pageNumber int) ParsedPage {
	var resp GetSellerListResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return PageMalformed{Raw: excerpt(body), Reason: "decode: " + err.Error()}
	}

	switch resp.Ack {
	case "Success", "Warning":
	case "Failure", "PartialFailure":
		rejected := PageRejected{Message: "Ack=" + resp.Ack}
		if len(resp.Errors) > 0 {
			rejected.Code = resp.Errors[0].ErrorCode
			rejected.Message = firstNonEmpty(resp.Errors[0].LongMessage, resp.Errors[0].ShortMessage, rejected.Message)
		}
		return rejected
	default:
		return PageMalformed{Raw: excerpt(body), Reason: "unexpected Ack " + strconv.Quote(resp.Ack)}
	}

	var totalEntries, totalPages int
	if resp.PaginationResult != nil {
		totalEntries = resp.PaginationResult.TotalNumberOfEntries
		totalPages = resp.PaginationResult.TotalNumberOfPages
	}

	if resp.ItemArray == nil || len(resp.ItemArray.Items) == 0 {
		if resp.ReturnedItemCountActual > 0 || (totalEntries > 0 && pageNumber <= totalPages) {
			return PageMalformed{
				Raw:    excerpt(body),
				Reason: "listing collection missing while count is non-zero",
			}
		}
		return PageOK{TotalEntries: totalEntries, TotalPages: totalPages}
	}

	// An item without ItemID is passed on as is; reconciliation rejects it
	// per row and keeps the rest of the page.
	listings := make([]domain.Listing, 0, len(resp.ItemArray.Items))
	for _, item := range resp.ItemArray.Items {
		listings = append(listings, toListing(item))
	}

	return PageOK{
		Listings:     listings,
		TotalEntries: totalEntries,
		TotalPages:   totalPages,
		HasMoreItems: resp.HasMoreItems || pageNumber < totalPages,
	}
}

func toListing(item Item) domain.Listing {
	l := domain.Listing{
		ExternalID:   strings.TrimSpace(item.ItemID),
		Status:       itemStatus(item.SellingStatus),
		Title:        item.Title,
		CategoryID:   item.PrimaryCategory.CategoryID,
		CategoryName: item.PrimaryCategory.CategoryName,
		ViewURL:      item.ListingDetails.ViewItemURL,
	}

	if len(item.PictureDetails.PictureURL) > 0 {
		l.PrimaryImageURL = item.PictureDetails.PictureURL[0]
	} else {
		l.PrimaryImageURL = item.PictureDetails.GalleryURL
	}

	if price := item.SellingStatus.CurrentPrice; price != nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(price.Value), 64); err == nil {
			l.PriceAmount = &v
		}
		if price.CurrencyID != "" {
			currency := price.CurrencyID
			l.PriceCurrency = &currency
		}
	}

	return l
}

// itemStatus treats a completed listing that sold at least one unit as SOLD.
func itemStatus(s SellingStatus) domain.Status {
	status := domain.NormalizeStatus(s.ListingStatus)
	if status == domain.StatusEnded && s.QuantitySold > 0 {
		return domain.StatusSold
	}
	return status
}

func excerpt(body []byte) string {
	if len(body) > maxRawExcerpt {
		return string(body[:maxRawExcerpt])
	}
	return string(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
