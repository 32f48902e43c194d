package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/catalog"
	"marketplace-backend/internal/ledger"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/ratings"
)

const idempotencyHeader = "Idempotency-Key"

type createListingBody struct {
	Title             string `json:"title" validate:"required,max=200"`
	AvailableQuantity int    `json:"availableQuantity" validate:"gte=0"`
}

type createRequestBody struct {
	ListingID              uint   `json:"listingId" validate:"required"`
	TransactionKind        string `json:"transactionKind" validate:"required"`
	ExchangeOfferListingID *uint  `json:"exchangeOfferListingId,omitempty"`
	Note                   string `json:"note,omitempty"`
}

type resolveRequestBody struct {
	Decision     string `json:"decision" validate:"required"`
	ResponseNote string `json:"responseNote,omitempty"`
}

type submitRatingsBody struct {
	ItemScore       *int   `json:"itemScore,omitempty"`
	ItemNote        string `json:"itemNote,omitempty"`
	TransactionDate string `json:"transactionDate,omitempty"`
	UserScore       int    `json:"userScore" validate:"required"`
	UserNote        string `json:"userNote,omitempty"`
}

type markReadBody struct {
	RequestIDs []uint `json:"requestIds" validate:"required,min=1,max=500"`
}

// decodeBody decodes and validates a JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return apperr.FromValidator(err)
	}
	return nil
}

func (a *API) createListing(w http.ResponseWriter, r *http.Request) {
	var body createListingBody
	if err := decodeBody(r, &body); err != nil {
		a.respondError(w, r, err)
		return
	}
	l, err := a.Listings.Create(r.Context(), catalog.CreateListingInput{
		OwnerID:           callerID(r),
		Title:             body.Title,
		AvailableQuantity: body.AvailableQuantity,
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

func (a *API) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	l, err := a.Listings.Get(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeBody(r, &body); err != nil {
		a.respondError(w, r, err)
		return
	}
	req, err := a.Ledger.CreateRequest(r.Context(), ledger.CreateRequestInput{
		ListingID:      body.ListingID,
		RequesterID:    callerID(r),
		Kind:           model.TransactionKind(strings.ToLower(body.TransactionKind)),
		OfferListingID: body.ExchangeOfferListingID,
		Note:           body.Note,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	req, err := a.Ledger.Get(r.Context(), id, callerID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (a *API) resolveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var body resolveRequestBody
	if err := decodeBody(r, &body); err != nil {
		a.respondError(w, r, err)
		return
	}
	req, err := a.Ledger.ResolveRequest(r.Context(), ledger.ResolveRequestInput{
		RequestID:      id,
		ResolverID:     callerID(r),
		Decision:       ledger.Decision(strings.ToLower(body.Decision)),
		ResponseNote:   body.ResponseNote,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (a *API) listPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.Ledger.ListPending(r.Context(), callerID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

func (a *API) listResolvedUnread(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.Ledger.ListResolvedUnread(r.Context(), callerID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	reqs, err := a.Ledger.History(r.Context(), callerID(r), ledger.HistoryFilter{
		Kind: model.TransactionKind(strings.ToLower(r.URL.Query().Get("kind"))),
		From: from,
		To:   to,
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

func (a *API) listingHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	reqs, err := a.Ledger.ListingHistory(r.Context(), id, callerID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

func (a *API) submitRatings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var body submitRatingsBody
	if err := decodeBody(r, &body); err != nil {
		a.respondError(w, r, err)
		return
	}
	in := ratings.SubmitRatingsInput{
		RequestID: id,
		RaterID:   callerID(r),
		ItemScore: body.ItemScore,
		ItemNote:  body.ItemNote,
		UserScore: body.UserScore,
		UserNote:  body.UserNote,
	}
	if body.TransactionDate != "" {
		d, err := parseDate(body.TransactionDate)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		in.TransactionDate = &d
	}
	if err := a.Ratings.SubmitRatings(r.Context(), in); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validationf("invalid transactionDate %q: use YYYY-MM-DD", raw)
	}
	return t, nil
}

func (a *API) listingRatings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	out, err := a.Ratings.ListingRatings(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) listingRatingSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	s, err := a.Ratings.ListingRatingSummary(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (a *API) receivedRatings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	out, err := a.Ratings.ReceivedRatings(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) userRatingSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	s, err := a.Ratings.UserRatingSummary(r.Context(), id)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	var body markReadBody
	if err := decodeBody(r, &body); err != nil {
		a.respondError(w, r, err)
		return
	}
	n, err := a.Reads.MarkRead(r.Context(), callerID(r), body.RequestIDs)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.Reads.UnreadCount(r.Context(), callerID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (a *API) inbox(w http.ResponseWriter, r *http.Request) {
	in, err := a.Reads.Inbox(r.Context(), callerID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, in)
}

func (a *API) recentNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.respondError(w, r, apperr.Validationf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	out, err := a.Feed.Recent(r.Context(), callerID(r), limit)
	if err != nil {
		a.respondError(w, r, apperr.Wrap(apperr.CodeTransient, "notification feed unavailable", err))
		return
	}
	respondJSON(w, http.StatusOK, out)
}
