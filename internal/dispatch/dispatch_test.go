package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	UserID  uint
	Event   string
	Payload interface{}
	Room    string
}

type recordingNotifier struct {
	mu         sync.Mutex
	events     []sentEvent
	broadcasts []string
}

func (n *recordingNotifier) ToUser(userID uint, event string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{UserID: userID, Event: event, Payload: payload})
	return true
}

func (n *recordingNotifier) ToRoomAndUser(room string, userID uint, event string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{UserID: userID, Event: event, Payload: payload, Room: room})
	return true
}

func (n *recordingNotifier) Broadcast(event string, payload interface{}, exceptUserID uint) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
	return 0
}

func (n *recordingNotifier) to(userID uint, event string) []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentEvent
	for _, e := range n.events {
		if e.UserID == userID && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeGateway struct {
	charges []services.WalletCharge
	err     error
}

func (g *fakeGateway) ChargeWallet(ctx context.Context, charge services.WalletCharge) (services.PaymentResult, error) {
	if g.err != nil {
		return services.PaymentResult{}, g.err
	}
	g.charges = append(g.charges, charge)
	return services.PaymentResult{OrderID: "order-1", TransactionID: "txn-1"}, nil
}

type memoryReceipts struct {
	saved map[uint][]byte
}

func (r *memoryReceipts) SaveReceipt(ctx context.Context, tripID uint, body []byte) (string, error) {
	r.saved[tripID] = body
	return "receipts/test.json", nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []string
}

func (p *recordingPublisher) PublishTripUpdate(ctx context.Context, tripID uint, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
	return nil
}

type session string

func (s session) SessionID() string { return string(s) }

type fixture struct {
	ctx       context.Context
	store     *repository.MemoryStore
	registry  *services.Registry
	notifier  *recordingNotifier
	gateway   *fakeGateway
	receipts  *memoryReceipts
	publisher *recordingPublisher
	metrics   *services.Metrics
	d         *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		store:     repository.NewMemoryStore(),
		registry:  services.NewRegistry(nil, logger.Discard()),
		notifier:  &recordingNotifier{},
		gateway:   &fakeGateway{},
		receipts:  &memoryReceipts{saved: make(map[uint][]byte)},
		publisher: &recordingPublisher{},
		metrics:   services.NewMetrics(prometheus.NewRegistry()),
	}
	f.d = New(Deps{
		Store:     f.store,
		Presence:  f.registry,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Payments:  f.gateway,
		Receipts:  f.receipts,
		Metrics:   f.metrics,
		Log:       logger.Discard(),
	})
	return f
}

func (f *fixture) rider(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: models.RoleRider}
	require.NoError(t, f.store.CreateUser(f.ctx, u))
	return u
}

func (f *fixture) driver(t *testing.T, name, class string, online bool) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: models.RoleDriver, VehicleClass: class}
	require.NoError(t, f.store.CreateUser(f.ctx, u))
	if online {
		f.registry.Connect(u, session(name))
	}
	return u
}

func (f *fixture) pendingTrip(t *testing.T, rider *models.User, method string) *models.Trip {
	t.Helper()
	trip, err := f.d.Trips.Request(f.ctx, rider, RequestTripCommand{
		Pickup:        models.Location{Lat: 30, Lng: 31},
		Dropoff:       models.Location{Lat: 30.05, Lng: 31.05},
		VehicleClass:  utils.VehicleClassStandard,
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return trip
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func TestTripLocksReleaseEntries(t *testing.T) {
	locks := NewTripLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size())
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to string
		want     bool
	}{
		{models.TripStatusPending, models.TripStatusCancelled, true},
		{models.TripStatusPending, models.TripStatusStarted, false},
		{models.TripStatusAccepted, models.TripStatusStarted, true},
		{models.TripStatusAccepted, models.TripStatusCancelled, true},
		{models.TripStatusStarted, models.TripStatusCompleted, true},
		{models.TripStatusStarted, models.TripStatusCancelled, false},
		{models.TripStatusCompleted, models.TripStatusStarted, false},
		{models.TripStatusCancelled, models.TripStatusPending, false},
	}
	for _, tc := range testCases {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestEstimateRejectsUnknownClass(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Trips.Estimate(&utils.Point{Lat: 30, Lng: 31}, &utils.Point{Lat: 30.05, Lng: 31.05}, "spaceship")
	assertKind(t, err, apperr.KindInvalidInput)

	_, err = f.d.Trips.Estimate(nil, &utils.Point{}, utils.VehicleClassEconomy)
	assertKind(t, err, apperr.KindInvalidInput)

	estimate, err := f.d.Trips.Estimate(&utils.Point{Lat: 30, Lng: 31}, &utils.Point{Lat: 30.05, Lng: 31.05}, utils.VehicleClassPremium)
	require.NoError(t, err)
	assert.Equal(t, 109, estimate.Price)
}

func TestRequestFansOutToOnlineDriversOfClass(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	standard := f.driver(t, "sam", utils.VehicleClassStandard, true)
	premium := f.driver(t, "pia", utils.VehicleClassPremium, true)
	offline := f.driver(t, "omar", utils.VehicleClassStandard, false)

	trip := f.pendingTrip(t, rider, "")
	assert.Equal(t, models.TripStatusPending, trip.Status)
	assert.Equal(t, 55.0, trip.Price)
	assert.Equal(t, 15, trip.Duration)
	assert.Equal(t, models.PaymentMethodCash, trip.PaymentMethod)

	offers := f.notifier.to(standard.ID, EventNewTripRequest)
	require.Len(t, offers, 1)
	request := offers[0].Payload.(NewTripRequest)
	assert.Equal(t, trip.ID, request.TripID)
	assert.Equal(t, "rana", request.RiderName)
	assert.Empty(t, f.notifier.to(premium.ID, EventNewTripRequest))
	assert.Empty(t, f.notifier.to(offline.ID, EventNewTripRequest))

	reached, err := f.d.Trips.Announce(f.ctx, rider, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "sam", utils.VehicleClassStandard, false)

	_, err := f.d.Trips.Request(f.ctx, driver, RequestTripCommand{VehicleClass: utils.VehicleClassEconomy})
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Trips.Request(f.ctx, rider, RequestTripCommand{
		Pickup:       models.Location{Lat: 95, Lng: 31},
		Dropoff:      models.Location{Lat: 30, Lng: 31},
		VehicleClass: utils.VehicleClassEconomy,
	})
	assertKind(t, err, apperr.KindInvalidInput)

	_, err = f.d.Trips.Request(f.ctx, rider, RequestTripCommand{
		VehicleClass:  utils.VehicleClassEconomy,
		PaymentMethod: "card",
	})
	assertKind(t, err, apperr.KindInvalidInput)

	price := 80.0
	trip, err := f.d.Trips.Request(f.ctx, rider, RequestTripCommand{
		Pickup:       models.Location{Lat: 30, Lng: 31},
		Dropoff:      models.Location{Lat: 30.05, Lng: 31.05},
		VehicleClass: utils.VehicleClassEconomy,
		Price:        &price,
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, trip.Price)
}

func TestBiddingScenario(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driverA := f.driver(t, "adam", utils.VehicleClassStandard, true)
	driverB := f.driver(t, "badr", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")

	bidA, err := f.d.Bids.SubmitBid(f.ctx, driverA, trip.ID, BidCommand{Amount: 50})
	require.NoError(t, err)
	eta := 4
	bidB, err := f.d.Bids.SubmitBid(f.ctx, driverB, trip.ID, BidCommand{Amount: 45, EstimatedArrival: &eta, Note: "close by"})
	require.NoError(t, err)

	notices := f.notifier.to(rider.ID, EventNewDriverBid)
	require.Len(t, notices, 2)
	assert.Equal(t, "badr", notices[1].Payload.(NewDriverBid).Driver.Name)

	bids, err := f.d.Bids.ListBids(f.ctx, rider, trip.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, bidB.ID, bids[0].ID)
	assert.Equal(t, bidA.ID, bids[1].ID)

	accepted, err := f.d.Bids.AcceptBid(f.ctx, rider, trip.ID, bidB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusAccepted, accepted.Status)
	assert.True(t, accepted.HasDriver(driverB.ID))
	assert.Equal(t, 45.0, accepted.Price)

	storedA, err := f.store.FindBid(f.ctx, bidA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusRejected, storedA.Status)
	storedB, err := f.store.FindBid(f.ctx, bidB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusAccepted, storedB.Status)

	acceptedNotices := f.notifier.to(rider.ID, EventTripAccepted)
	require.Len(t, acceptedNotices, 1)
	assert.Equal(t, driverB.ID, acceptedNotices[0].Payload.(TripAccepted).DriverID)
	assert.Len(t, f.notifier.to(driverB.ID, EventBidAccepted), 1)
	assert.Len(t, f.notifier.to(driverA.ID, EventBidRejected), 1)
	assert.Empty(t, f.notifier.to(driverB.ID, EventBidRejected))

	_, err = f.d.Bids.AcceptBid(f.ctx, rider, trip.ID, bidA.ID)
	assertKind(t, err, apperr.KindConflict)

	again, err := f.store.FindTrip(f.ctx, trip.ID)
	require.NoError(t, err)
	assert.True(t, again.HasDriver(driverB.ID))
	assert.Equal(t, 45.0, again.Price)
}

func TestSubmitBidErrors(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")

	_, err := f.d.Bids.SubmitBid(f.ctx, rider, trip.ID, BidCommand{Amount: 10})
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Bids.SubmitBid(f.ctx, driver, 999, BidCommand{Amount: 10})
	assertKind(t, err, apperr.KindNotFound)

	negative := -1
	testCases := []BidCommand{
		{Amount: 0},
		{Amount: -5},
		{Amount: 10, EstimatedArrival: &negative},
		{Amount: 10, Note: string(make([]rune, models.MaxBidNoteLength+1))},
	}
	for _, cmd := range testCases {
		_, err = f.d.Bids.SubmitBid(f.ctx, driver, trip.ID, cmd)
		assertKind(t, err, apperr.KindInvalidInput)
	}

	_, err = f.d.Bids.SubmitBid(f.ctx, driver, trip.ID, BidCommand{Amount: 40})
	require.NoError(t, err)
	_, err = f.d.Bids.SubmitBid(f.ctx, driver, trip.ID, BidCommand{Amount: 35})
	assertKind(t, err, apperr.KindConflict)

	_, err = f.d.Trips.Cancel(f.ctx, rider, trip.ID)
	require.NoError(t, err)
	late := f.driver(t, "late", utils.VehicleClassStandard, true)
	_, err = f.d.Bids.SubmitBid(f.ctx, late, trip.ID, BidCommand{Amount: 30})
	assertKind(t, err, apperr.KindConflict)
}

func TestAcceptBidErrors(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	stranger := f.rider(t, "sara")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")
	other := f.pendingTrip(t, stranger, "")

	bid, err := f.d.Bids.SubmitBid(f.ctx, driver, trip.ID, BidCommand{Amount: 40})
	require.NoError(t, err)
	foreign, err := f.d.Bids.SubmitBid(f.ctx, driver, other.ID, BidCommand{Amount: 40})
	require.NoError(t, err)

	_, err = f.d.Bids.AcceptBid(f.ctx, stranger, trip.ID, bid.ID)
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Bids.ListBids(f.ctx, stranger, trip.ID)
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Bids.AcceptBid(f.ctx, rider, trip.ID, 999)
	assertKind(t, err, apperr.KindNotFound)

	_, err = f.d.Bids.AcceptBid(f.ctx, rider, trip.ID, foreign.ID)
	assertKind(t, err, apperr.KindNotFound)

	_, err = f.d.Bids.AcceptBid(f.ctx, rider, 999, bid.ID)
	assertKind(t, err, apperr.KindNotFound)
}

func TestConcurrentAcceptBidHasOneWinner(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	trip := f.pendingTrip(t, rider, "")

	const drivers = 8
	bids := make([]*models.Bid, drivers)
	for i := 0; i < drivers; i++ {
		d := f.driver(t, "driver"+string(rune('a'+i)), utils.VehicleClassStandard, true)
		bid, err := f.d.Bids.SubmitBid(f.ctx, d, trip.ID, BidCommand{Amount: float64(40 + i)})
		require.NoError(t, err)
		bids[i] = bid
	}

	var wg sync.WaitGroup
	errs := make(chan error, drivers)
	for _, bid := range bids {
		wg.Add(1)
		go func(bidID uint) {
			defer wg.Done()
			_, err := f.d.Bids.AcceptBid(f.ctx, rider, trip.ID, bidID)
			errs <- err
		}(bid.ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	}
	assert.Equal(t, 1, success)

	stored, err := f.store.ListBids(f.ctx, trip.ID, "")
	require.NoError(t, err)
	accepted := 0
	for _, bid := range stored {
		switch bid.Status {
		case models.BidStatusAccepted:
			accepted++
		case models.BidStatusRejected:
		default:
			t.Fatalf("bid %d left in status %s", bid.ID, bid.Status)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, f.notifier.to(rider.ID, EventTripAccepted), 1)
}

func TestConcurrentAcceptBidAndDirectAccept(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	bidder := f.driver(t, "adam", utils.VehicleClassStandard, true)
	direct := f.driver(t, "badr", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")
	bid, err := f.d.Bids.SubmitBid(f.ctx, bidder, trip.ID, BidCommand{Amount: 40})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.d.Bids.AcceptBid(f.ctx, rider, trip.ID, bid.ID)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.d.Trips.Accept(f.ctx, direct, trip.ID)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else {
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		}
	}
	assert.Equal(t, 1, success)

	stored, err := f.store.FindTrip(f.ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusAccepted, stored.Status)
	storedBid, err := f.store.FindBid(f.ctx, bid.ID)
	require.NoError(t, err)
	if stored.HasDriver(direct.ID) {
		assert.Equal(t, models.BidStatusRejected, storedBid.Status)
		assert.Equal(t, 55.0, stored.Price)
	} else {
		assert.Equal(t, models.BidStatusAccepted, storedBid.Status)
		assert.Equal(t, 40.0, stored.Price)
	}
}

func TestDirectAcceptRejectsPendingBids(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	bidder := f.driver(t, "adam", utils.VehicleClassStandard, true)
	direct := f.driver(t, "badr", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")
	bid, err := f.d.Bids.SubmitBid(f.ctx, bidder, trip.ID, BidCommand{Amount: 40})
	require.NoError(t, err)

	_, err = f.d.Trips.Accept(f.ctx, rider, trip.ID)
	assertKind(t, err, apperr.KindForbidden)

	accepted, err := f.d.Trips.Accept(f.ctx, direct, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 55.0, accepted.Price)
	assert.Len(t, f.notifier.to(bidder.ID, EventBidRejected), 1)
	assert.Len(t, f.notifier.to(rider.ID, EventTripAccepted), 1)

	storedBid, err := f.store.FindBid(f.ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusRejected, storedBid.Status)

	_, err = f.d.Trips.Accept(f.ctx, bidder, trip.ID)
	assertKind(t, err, apperr.KindConflict)
}

func TestTripLifecycle(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	other := f.driver(t, "badr", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, models.PaymentMethodCash)

	_, err := f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusAccepted)
	assertKind(t, err, apperr.KindInvalidTransition)

	_, err = f.d.Trips.Accept(f.ctx, driver, trip.ID)
	require.NoError(t, err)

	_, err = f.d.Trips.Advance(f.ctx, other, trip.ID, models.TripStatusStarted)
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Trips.Advance(f.ctx, rider, trip.ID, models.TripStatusStarted)
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusCompleted)
	assertKind(t, err, apperr.KindInvalidTransition)

	_, err = f.d.Trips.Advance(f.ctx, driver, trip.ID, "flying")
	assertKind(t, err, apperr.KindInvalidInput)

	started, err := f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusStarted)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusStarted, started.Status)

	_, err = f.d.Trips.Cancel(f.ctx, rider, trip.ID)
	assertKind(t, err, apperr.KindInvalidTransition)

	completed, err := f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, completed.Status)
	assert.True(t, completed.IsPaid, "cash trips are settled on completion")

	_, err = f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusStarted)
	assertKind(t, err, apperr.KindInvalidTransition)

	updates := f.notifier.to(rider.ID, EventTripStatusUpdate)
	require.Len(t, updates, 3)
	assert.Equal(t, models.TripStatusCompleted, updates[2].Payload.(TripStatusUpdate).Status)
	assert.Len(t, f.notifier.to(driver.ID, EventTripStatusUpdate), 3)
	assert.Equal(t, []string{models.TripStatusAccepted, models.TripStatusStarted, models.TripStatusCompleted}, f.publisher.statuses)

	_, err = f.d.Trips.Pay(f.ctx, rider, trip.ID, PayCommand{})
	assertKind(t, err, apperr.KindConflict)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	stranger := f.driver(t, "badr", utils.VehicleClassStandard, true)

	pending := f.pendingTrip(t, rider, "")
	_, err := f.d.Trips.Cancel(f.ctx, driver, pending.ID)
	assertKind(t, err, apperr.KindForbidden)
	bid, err := f.d.Bids.SubmitBid(f.ctx, driver, pending.ID, BidCommand{Amount: 40})
	require.NoError(t, err)

	cancelled, err := f.d.Trips.Cancel(f.ctx, rider, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCancelled, cancelled.Status)
	storedBid, err := f.store.FindBid(f.ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusRejected, storedBid.Status)
	assert.Len(t, f.notifier.to(driver.ID, EventBidRejected), 1)

	_, err = f.d.Trips.Cancel(f.ctx, rider, pending.ID)
	assertKind(t, err, apperr.KindInvalidTransition)

	accepted := f.pendingTrip(t, rider, "")
	_, err = f.d.Trips.Accept(f.ctx, driver, accepted.ID)
	require.NoError(t, err)
	_, err = f.d.Trips.Cancel(f.ctx, stranger, accepted.ID)
	assertKind(t, err, apperr.KindForbidden)

	byDriver, err := f.d.Trips.Advance(f.ctx, driver, accepted.ID, models.TripStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCancelled, byDriver.Status)
	assert.True(t, byDriver.HasDriver(driver.ID))
}

func completedTrip(t *testing.T, f *fixture, rider, driver *models.User, method string) *models.Trip {
	t.Helper()
	trip := f.pendingTrip(t, rider, method)
	_, err := f.d.Trips.Accept(f.ctx, driver, trip.ID)
	require.NoError(t, err)
	_, err = f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusStarted)
	require.NoError(t, err)
	completed, err := f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusCompleted)
	require.NoError(t, err)
	return completed
}

func TestRateOnce(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)

	pending := f.pendingTrip(t, rider, "")
	_, err := f.d.Trips.Rate(f.ctx, rider, pending.ID, 4, "")
	assertKind(t, err, apperr.KindConflict)

	first := completedTrip(t, f, rider, driver, "")
	_, err = f.d.Trips.Rate(f.ctx, rider, first.ID, 6, "")
	assertKind(t, err, apperr.KindInvalidInput)
	_, err = f.d.Trips.Rate(f.ctx, driver, first.ID, 3, "")
	assertKind(t, err, apperr.KindForbidden)

	rated, err := f.d.Trips.Rate(f.ctx, rider, first.ID, 3, "  ok  ")
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 3, *rated.Rating)
	assert.Equal(t, "ok", rated.Review)

	_, err = f.d.Trips.Rate(f.ctx, rider, first.ID, 5, "")
	assertKind(t, err, apperr.KindConflict)

	second := completedTrip(t, f, rider, driver, "")
	_, err = f.d.Trips.Rate(f.ctx, rider, second.ID, 5, "")
	require.NoError(t, err)

	stored, err := f.store.FindUser(f.ctx, driver.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, stored.AverageRating, 1e-9)
	assert.Equal(t, 2, stored.RatingCount)

	presence, ok := f.registry.Get(driver.ID)
	require.True(t, ok)
	assert.InDelta(t, 4.0, presence.Rating, 1e-9)
}

func TestPayWithWallet(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	trip := completedTrip(t, f, rider, driver, models.PaymentMethodVodafoneCash)
	assert.False(t, trip.IsPaid)

	_, err := f.d.Trips.Pay(f.ctx, rider, trip.ID, PayCommand{})
	assertKind(t, err, apperr.KindInvalidInput)

	_, err = f.d.Trips.Pay(f.ctx, driver, trip.ID, PayCommand{SenderPhone: "010"})
	assertKind(t, err, apperr.KindForbidden)

	paid, err := f.d.Trips.Pay(f.ctx, rider, trip.ID, PayCommand{SenderPhone: "01012345678"})
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	assert.Equal(t, "order-1", paid.PaymentDetails.OrderID)
	assert.Equal(t, "01012345678", paid.PaymentDetails.SenderPhone)

	require.Len(t, f.gateway.charges, 1)
	assert.Equal(t, 55.0, f.gateway.charges[0].Amount)
	assert.Equal(t, "rana", f.gateway.charges[0].PayerName)
	assert.Contains(t, string(f.receipts.saved[trip.ID]), `"transactionId":"txn-1"`)

	_, err = f.d.Trips.Pay(f.ctx, rider, trip.ID, PayCommand{SenderPhone: "01012345678"})
	assertKind(t, err, apperr.KindConflict)
}

func TestPaymentFailureLeavesTripUnpaid(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("gateway timeout")
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	trip := completedTrip(t, f, rider, driver, models.PaymentMethodVodafoneCash)

	_, err := f.d.Trips.Pay(f.ctx, rider, trip.ID, PayCommand{SenderPhone: "010"})
	assertKind(t, err, apperr.KindUpstreamFailure)

	stored, err := f.store.FindTrip(f.ctx, trip.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsPaid)
	assert.Equal(t, models.TripStatusCompleted, stored.Status)
	assert.Empty(t, stored.PaymentDetails.OrderID)
	assert.Empty(t, f.receipts.saved)
}

func TestDriverDisconnectLeavesTripUntouched(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")
	_, err := f.d.Trips.Accept(f.ctx, driver, trip.ID)
	require.NoError(t, err)

	assert.True(t, f.registry.Disconnect(driver.ID, session("adam")))

	stored, err := f.store.FindTrip(f.ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusAccepted, stored.Status)
	assert.True(t, stored.HasDriver(driver.ID))

	_, err = f.d.Trips.Advance(f.ctx, driver, trip.ID, models.TripStatusStarted)
	require.NoError(t, err)
}

func TestGetTrip(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	stranger := f.rider(t, "sara")
	trip := f.pendingTrip(t, rider, "")

	_, err := f.d.Trips.Get(f.ctx, driver, trip.ID)
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Trips.Accept(f.ctx, driver, trip.ID)
	require.NoError(t, err)

	for _, caller := range []*models.User{rider, driver} {
		got, err := f.d.Trips.Get(f.ctx, caller, trip.ID)
		require.NoError(t, err)
		assert.Equal(t, trip.ID, got.ID)
	}

	_, err = f.d.Trips.Get(f.ctx, stranger, trip.ID)
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.d.Trips.Get(f.ctx, rider, 999)
	assertKind(t, err, apperr.KindNotFound)
}

func TestRelayAccepted(t *testing.T) {
	f := newFixture(t)
	rider := f.rider(t, "rana")
	driver := f.driver(t, "adam", utils.VehicleClassStandard, true)
	other := f.driver(t, "badr", utils.VehicleClassStandard, true)
	trip := f.pendingTrip(t, rider, "")

	assertKind(t, f.d.Trips.RelayAccepted(f.ctx, driver, trip.ID), apperr.KindForbidden)

	_, err := f.d.Trips.Accept(f.ctx, driver, trip.ID)
	require.NoError(t, err)
	assertKind(t, f.d.Trips.RelayAccepted(f.ctx, other, trip.ID), apperr.KindForbidden)
	require.NoError(t, f.d.Trips.RelayAccepted(f.ctx, driver, trip.ID))
	assert.Len(t, f.notifier.to(rider.ID, EventTripAccepted), 2)
}
