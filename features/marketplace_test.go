package features

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/catalog"
	"marketplace-backend/internal/identity"
	"marketplace-backend/internal/ledger"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/ratings"
	"marketplace-backend/internal/readtracker"
	"marketplace-backend/internal/store"
	"marketplace-backend/internal/store/storetest"
)

type marketplaceTestContext struct {
	t         *testing.T
	st        *store.Store
	catalog   *catalog.Service
	ledger    *ledger.Service
	reads     *readtracker.Tracker
	collector *ratings.Collector

	users    map[string]uint
	listings map[string]uint
	requests map[string]uint
	err      error
	results  []error
}

func (c *marketplaceTestContext) reset() {
	st, reg := storetest.New(c.t)
	log := zap.NewNop()
	c.st = st
	c.catalog = catalog.NewService(st)
	c.ledger = ledger.NewService(st, reg, nil, log)
	c.reads = readtracker.New(st, reg, log)
	c.collector = ratings.NewCollector(st, reg, nil, identity.Static{}, log)
	c.users = map[string]uint{}
	c.listings = map[string]uint{}
	c.requests = map[string]uint{}
	c.err = nil
	c.results = nil
}

func (c *marketplaceTestContext) user(name string) uint {
	if id, ok := c.users[name]; ok {
		return id
	}
	id := uint(len(c.users) + 1)
	c.users[name] = id
	return id
}

func requestKey(requester, listing string) string { return requester + "/" + listing }

func (c *marketplaceTestContext) request(requester, listing string) (uint, error) {
	id, ok := c.requests[requestKey(requester, listing)]
	if !ok {
		return 0, fmt.Errorf("no request from %q on %q", requester, listing)
	}
	return id, nil
}

func (c *marketplaceTestContext) userHasAListingWithAvailable(owner, listing string, qty int) error {
	l, err := c.catalog.Create(context.Background(), catalog.CreateListingInput{
		OwnerID: c.user(owner), Title: listing, AvailableQuantity: qty,
	})
	if err != nil {
		return err
	}
	c.listings[listing] = l.ID
	return nil
}

func (c *marketplaceTestContext) userRequestsAsADonation(requester, listing string) error {
	req, err := c.ledger.CreateRequest(context.Background(), ledger.CreateRequestInput{
		ListingID: c.listings[listing], RequesterID: c.user(requester), Kind: model.KindDonation,
	})
	c.err = err
	if err == nil {
		c.requests[requestKey(requester, listing)] = req.ID
	}
	return nil
}

func (c *marketplaceTestContext) userResolvesTheRequestOf(resolver, verb, requester, listing string) error {
	id, err := c.request(requester, listing)
	if err != nil {
		return err
	}
	d := ledger.Approve
	if verb == "declines" {
		d = ledger.Decline
	}
	_, c.err = c.ledger.ResolveRequest(context.Background(), ledger.ResolveRequestInput{
		RequestID: id, ResolverID: c.user(resolver), Decision: d,
	})
	return nil
}

func (c *marketplaceTestContext) listingHasAvailable(listing string, qty int) error {
	l, err := c.catalog.Get(context.Background(), c.listings[listing])
	if err != nil {
		return err
	}
	if l.AvailableQuantity != qty {
		return fmt.Errorf("listing %s has %d available, want %d", listing, l.AvailableQuantity, qty)
	}
	return nil
}

func (c *marketplaceTestContext) theRequestOfOnIs(requester, listing, want string) error {
	id, err := c.request(requester, listing)
	if err != nil {
		return err
	}
	req, err := c.ledger.Get(context.Background(), id, c.user(requester))
	if err != nil {
		return err
	}
	if req.Situation.String() != want {
		return fmt.Errorf("request is %s, want %s", req.Situation, want)
	}
	if (req.ResolvedAt != nil) != req.Situation.Terminal() {
		return fmt.Errorf("resolvedAt set=%t for situation %s", req.ResolvedAt != nil, req.Situation)
	}
	return nil
}

func (c *marketplaceTestContext) theOperationFailsWith(code string) error {
	if c.err == nil {
		return fmt.Errorf("expected %s, operation succeeded", code)
	}
	if got := apperr.CodeOf(c.err); string(got) != code {
		return fmt.Errorf("expected %s, got %v", code, c.err)
	}
	return nil
}

func (c *marketplaceTestContext) theOperationSucceeds() error {
	return c.err
}

func (c *marketplaceTestContext) userSendsConcurrentRequestsFor(requester string, n int, listing string) error {
	c.results = make([]error, n)
	in := ledger.CreateRequestInput{ListingID: c.listings[listing], RequesterID: c.user(requester), Kind: model.KindDonation}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, c.results[i] = c.ledger.CreateRequest(context.Background(), in)
		}(i)
	}
	wg.Wait()
	return nil
}

func (c *marketplaceTestContext) userResolvesTheRequestOfTimesConcurrently(resolver, requester, listing string, n int) error {
	id, err := c.request(requester, listing)
	if err != nil {
		return err
	}
	c.results = make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		d := ledger.Approve
		if i%2 == 1 {
			d = ledger.Decline
		}
		wg.Add(1)
		go func(i int, d ledger.Decision) {
			defer wg.Done()
			_, c.results[i] = c.ledger.ResolveRequest(context.Background(), ledger.ResolveRequestInput{
				RequestID: id, ResolverID: c.user(resolver), Decision: d,
			})
		}(i, d)
	}
	wg.Wait()
	return nil
}

func (c *marketplaceTestContext) exactlySucceedsAndFailWith(ok, failed int, code string) error {
	var gotOK, gotFailed int
	for _, err := range c.results {
		switch {
		case err == nil:
			gotOK++
		case string(apperr.CodeOf(err)) == code:
			gotFailed++
		default:
			return fmt.Errorf("unexpected error: %v", err)
		}
	}
	if gotOK != ok || gotFailed != failed {
		return fmt.Errorf("got %d successes and %d %s, want %d and %d", gotOK, gotFailed, code, ok, failed)
	}
	return nil
}

func (c *marketplaceTestContext) rate(rater, requester, listing string, itemScore *int, date string, userScore int) error {
	id, err := c.request(requester, listing)
	if err != nil {
		return err
	}
	in := ratings.SubmitRatingsInput{RequestID: id, RaterID: c.user(rater), ItemScore: itemScore, UserScore: userScore}
	if date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return err
		}
		in.TransactionDate = &d
	}
	c.err = c.collector.SubmitRatings(context.Background(), in)
	return nil
}

func (c *marketplaceTestContext) userRatesWithItemScoreOnAndUserScore(rater, requester, listing string, item int, date string, user int) error {
	return c.rate(rater, requester, listing, &item, date, user)
}

func (c *marketplaceTestContext) userRatesWithItemScoreAndUserScore(rater, requester, listing string, item, user int) error {
	return c.rate(rater, requester, listing, &item, "", user)
}

func (c *marketplaceTestContext) userRatesWithUserScore(rater, requester, listing string, user int) error {
	return c.rate(rater, requester, listing, nil, "", user)
}

func checkSummary(s ratings.Summary, count int, mean float64) error {
	if s.Count != int64(count) {
		return fmt.Errorf("count is %d, want %d", s.Count, count)
	}
	if s.Mean == nil || *s.Mean != mean {
		return fmt.Errorf("mean is %v, want %v", s.Mean, mean)
	}
	return nil
}

func (c *marketplaceTestContext) listingHasRatingsWithMean(listing string, count, mean int) error {
	s, err := c.collector.ListingRatingSummary(context.Background(), c.listings[listing])
	if err != nil {
		return err
	}
	return checkSummary(s, count, float64(mean))
}

func (c *marketplaceTestContext) userHasRatingsWithMean(user string, count, mean int) error {
	s, err := c.collector.UserRatingSummary(context.Background(), c.user(user))
	if err != nil {
		return err
	}
	return checkSummary(s, count, float64(mean))
}

func (c *marketplaceTestContext) listingHasNoRatings(listing string) error {
	s, err := c.collector.ListingRatingSummary(context.Background(), c.listings[listing])
	if err != nil {
		return err
	}
	if s.Count != 0 || s.Mean != nil {
		return fmt.Errorf("expected no ratings, got %+v", s)
	}
	return nil
}

func (c *marketplaceTestContext) userHasUnreadNotifications(user string, n int) error {
	got, err := c.reads.UnreadCount(context.Background(), c.user(user))
	if err != nil {
		return err
	}
	if got != int64(n) {
		return fmt.Errorf("unread count is %d, want %d", got, n)
	}
	return nil
}

func (c *marketplaceTestContext) userReadsTheRequestOn(user, listing string) error {
	id, err := c.request(user, listing)
	if err != nil {
		return err
	}
	_, err = c.reads.MarkRead(context.Background(), c.user(user), []uint{id})
	return err
}

func (c *marketplaceTestContext) userHasReadReceipts(user string, n int) error {
	var got int64
	err := c.st.DB.Model(&model.ReadReceipt{}).Where("user_id = ?", c.user(user)).Count(&got).Error
	if err != nil {
		return err
	}
	if got != int64(n) {
		return fmt.Errorf("%s has %d receipts, want %d", user, got, n)
	}
	return nil
}

func initializeScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		tc := &marketplaceTestContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			tc.reset()
			return ctx, nil
		})

		// Given steps
		ctx.Step(`^user "([^"]*)" has a listing "([^"]*)" with (\d+) available$`, tc.userHasAListingWithAvailable)

		// When steps
		ctx.Step(`^user "([^"]*)" requests "([^"]*)" as a donation$`, tc.userRequestsAsADonation)
		ctx.Step(`^user "([^"]*)" (approves|declines) the request of "([^"]*)" on "([^"]*)"$`, tc.userResolvesTheRequestOf)
		ctx.Step(`^user "([^"]*)" sends (\d+) concurrent requests for "([^"]*)"$`, tc.userSendsConcurrentRequestsFor)
		ctx.Step(`^user "([^"]*)" resolves the request of "([^"]*)" on "([^"]*)" (\d+) times concurrently$`, tc.userResolvesTheRequestOfTimesConcurrently)
		ctx.Step(`^user "([^"]*)" rates the request of "([^"]*)" on "([^"]*)" with item score (\d+) on "([^"]*)" and user score (\d+)$`, tc.userRatesWithItemScoreOnAndUserScore)
		ctx.Step(`^user "([^"]*)" rates the request of "([^"]*)" on "([^"]*)" with item score (\d+) and user score (\d+)$`, tc.userRatesWithItemScoreAndUserScore)
		ctx.Step(`^user "([^"]*)" rates the request of "([^"]*)" on "([^"]*)" with user score (\d+)$`, tc.userRatesWithUserScore)
		ctx.Step(`^user "([^"]*)" reads the request on "([^"]*)"$`, tc.userReadsTheRequestOn)

		// Then steps
		ctx.Step(`^listing "([^"]*)" has (\d+) available$`, tc.listingHasAvailable)
		ctx.Step(`^the request of "([^"]*)" on "([^"]*)" is "([^"]*)"$`, tc.theRequestOfOnIs)
		ctx.Step(`^the operation fails with "([^"]*)"$`, tc.theOperationFailsWith)
		ctx.Step(`^the operation succeeds$`, tc.theOperationSucceeds)
		ctx.Step(`^exactly (\d+) succeeds? and (\d+) fail with "([^"]*)"$`, tc.exactlySucceedsAndFailWith)
		ctx.Step(`^listing "([^"]*)" has (\d+) ratings? with mean (\d+)$`, tc.listingHasRatingsWithMean)
		ctx.Step(`^user "([^"]*)" has (\d+) ratings? with mean (\d+)$`, tc.userHasRatingsWithMean)
		ctx.Step(`^listing "([^"]*)" has no ratings$`, tc.listingHasNoRatings)
		ctx.Step(`^user "([^"]*)" has (\d+) unread notifications?$`, tc.userHasUnreadNotifications)
		ctx.Step(`^user "([^"]*)" has (\d+) read receipts?$`, tc.userHasReadReceipts)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"marketplace.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
