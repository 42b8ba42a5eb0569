package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agamariel/fooddispatch/internal/alerts"
	"github.com/agamariel/fooddispatch/internal/fare"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/notify"
	"github.com/agamariel/fooddispatch/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memDB: хранилище в памяти с теми же CAS-гарантиями, что и Postgres-реализация.
type memDB struct {
	mu          sync.Mutex
	number      int64
	orders      map[uuid.UUID]*models.Order
	lines       map[uuid.UUID][]*models.OrderLine
	drivers     map[uuid.UUID]*models.Driver
	penalties   map[uuid.UUID][]time.Time
	wallets     map[uuid.UUID]*models.Wallet
	entries     map[uuid.UUID][]*models.LedgerEntry
	restaurants map[uuid.UUID]*models.Restaurant
	items       map[uuid.UUID]*models.MenuItem
	addons      map[uuid.UUID]*models.MenuAddon
	contacts    map[uuid.UUID]*models.Contact
	audit       []models.AuditRecord
}

func newMemDB() *memDB {
	return &memDB{
		number:      999,
		orders:      make(map[uuid.UUID]*models.Order),
		lines:       make(map[uuid.UUID][]*models.OrderLine),
		drivers:     make(map[uuid.UUID]*models.Driver),
		penalties:   make(map[uuid.UUID][]time.Time),
		wallets:     make(map[uuid.UUID]*models.Wallet),
		entries:     make(map[uuid.UUID][]*models.LedgerEntry),
		restaurants: make(map[uuid.UUID]*models.Restaurant),
		items:       make(map[uuid.UUID]*models.MenuItem),
		addons:      make(map[uuid.UUID]*models.MenuAddon),
		contacts:    make(map[uuid.UUID]*models.Contact),
	}
}

func (db *memDB) Orders() *memOrders     { return &memOrders{db} }
func (db *memDB) Drivers() *memDrivers   { return &memDrivers{db} }
func (db *memDB) Wallets() *memWallets   { return &memWallets{db} }
func (db *memDB) Catalog() *memCatalog   { return &memCatalog{db} }
func (db *memDB) Contacts() *memContacts { return &memContacts{db} }
func (db *memDB) Audit() *memAudit       { return &memAudit{db} }

func (db *memDB) order(id uuid.UUID) *models.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	o := *db.orders[id]
	return &o
}

func (db *memDB) driver(id uuid.UUID) *models.Driver {
	db.mu.Lock()
	defer db.mu.Unlock()
	d := *db.drivers[id]
	return &d
}

func (db *memDB) orderEntries(orderID uuid.UUID) []*models.LedgerEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.LedgerEntry
	for _, list := range db.entries {
		for _, e := range list {
			if e.OrderID != nil && *e.OrderID == orderID {
				out = append(out, e)
			}
		}
	}
	return out
}

func (db *memDB) balance(owner uuid.UUID) decimal.Decimal {
	db.mu.Lock()
	defer db.mu.Unlock()
	if w, ok := db.wallets[owner]; ok {
		return w.Balance
	}
	return decimal.Zero
}

func (db *memDB) auditActions() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.audit))
	for _, r := range db.audit {
		out = append(out, r.Action)
	}
	return out
}

func (db *memDB) addRestaurant(owner uuid.UUID, lat, lon float64) *models.Restaurant {
	db.mu.Lock()
	defer db.mu.Unlock()
	r := &models.Restaurant{ID: uuid.New(), OwnerID: owner, Name: "kitchen", Lat: lat, Lon: lon, PushAddress: "expo:restaurant"}
	db.restaurants[r.ID] = r
	return r
}

func (db *memDB) addItem(restaurantID uuid.UUID, price string, discountPrice string) *models.MenuItem {
	db.mu.Lock()
	defer db.mu.Unlock()
	item := &models.MenuItem{ID: uuid.New(), RestaurantID: restaurantID, Name: "item", Price: decimal.RequireFromString(price)}
	if discountPrice != "" {
		dp := decimal.RequireFromString(discountPrice)
		item.DiscountPrice = &dp
	}
	db.items[item.ID] = item
	return item
}

func (db *memDB) addAddon(itemID uuid.UUID, price string) *models.MenuAddon {
	db.mu.Lock()
	defer db.mu.Unlock()
	a := &models.MenuAddon{ID: uuid.New(), ItemID: itemID, Name: "addon", Price: decimal.RequireFromString(price)}
	db.addons[a.ID] = a
	return a
}

func (db *memDB) addDriver(lat, lon float64, lastAssigned *time.Time) *models.Driver {
	db.mu.Lock()
	defer db.mu.Unlock()
	d := &models.Driver{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Available:      true,
		Lat:            &lat,
		Lon:            &lon,
		LastAssignedAt: lastAssigned,
		PushAddress:    "expo:driver",
	}
	db.drivers[d.ID] = d
	db.wallets[d.UserID] = &models.Wallet{ID: uuid.New(), OwnerID: d.UserID}
	out := *d
	return &out
}

func (db *memDB) addOrder(o *models.Order) *models.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	db.number++
	o.Number = db.number
	stored := *o
	db.orders[o.ID] = &stored
	return o
}

func (db *memDB) addWallet(owner uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.wallets[owner]; !ok {
		db.wallets[owner] = &models.Wallet{ID: uuid.New(), OwnerID: owner}
	}
}

func (db *memDB) hasLiveOrder(driverID uuid.UUID) bool {
	for _, o := range db.orders {
		if o.DriverID != nil && *o.DriverID == driverID && containsStatus(models.LiveDriverStatuses, o.Status) {
			return true
		}
	}
	return false
}

type memOrders struct{ db *memDB }

func (m *memOrders) Create(_ context.Context, order *models.Order, lines []*models.OrderLine) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	m.db.number++
	order.Number = m.db.number
	order.CreatedAt = time.Now()
	stored := *order
	m.db.orders[order.ID] = &stored
	m.db.lines[order.ID] = lines
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

func (m *memOrders) GetLines(_ context.Context, orderID uuid.UUID) ([]*models.OrderLine, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.lines[orderID], nil
}

func (m *memOrders) ReplaceLines(_ context.Context, orderID uuid.UUID, lines []*models.OrderLine, totals fare.Totals, allowed []models.OrderStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if !containsStatus(allowed, o.Status) {
		return storage.ErrOrderStateConflict
	}
	o.Subtotal, o.Discount, o.Tax, o.Total = totals.Subtotal, totals.Discount, totals.Tax, totals.Total
	m.db.lines[orderID] = lines
	return nil
}

func (m *memOrders) list(match func(o *models.Order) bool) []*models.Order {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*models.Order
	for _, o := range m.db.orders {
		if match(o) {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (m *memOrders) ListAwaitingByDriver(_ context.Context, driverID uuid.UUID) ([]*models.Order, error) {
	return m.list(func(o *models.Order) bool {
		return o.Status == models.OrderStatusAwaitingAcceptance && o.AssignedTo(driverID)
	}), nil
}

func (m *memOrders) ListExpiredAwaiting(_ context.Context, now time.Time, limit int) ([]*models.Order, error) {
	out := m.list(func(o *models.Order) bool {
		return o.Status == models.OrderStatusAwaitingAcceptance && o.Expired(now)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) ListUnsettledDelivered(_ context.Context, limit int) ([]*models.Order, error) {
	out := m.list(func(o *models.Order) bool {
		return o.Status == models.OrderStatusDelivered && !o.Settled
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) ClaimForDriver(_ context.Context, orderID, driverID uuid.UUID, now, deadline time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.drivers[driverID]
	if !ok {
		return storage.ErrDriverNotFound
	}
	if !d.Dispatchable(now) || m.db.hasLiveOrder(driverID) {
		return storage.ErrDriverUnavailable
	}
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAccepted || o.DriverID != nil {
		return storage.ErrOrderStateConflict
	}
	id := driverID
	o.DriverID = &id
	o.Status = models.OrderStatusAwaitingAcceptance
	o.AcceptanceDeadline = &deadline
	o.StuckSince = nil
	d.LastAssignedAt = &now
	return nil
}

func (m *memOrders) ConfirmAcceptance(_ context.Context, orderID, driverID uuid.UUID, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAwaitingAcceptance || !o.AssignedTo(driverID) || o.Expired(now) {
		return storage.ErrOrderStateConflict
	}
	o.Status = models.OrderStatusAssigned
	o.AcceptanceDeadline = nil
	return nil
}

func (m *memOrders) ExpireAttempt(_ context.Context, orderID, driverID uuid.UUID, now time.Time) (*models.Driver, bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return nil, false, storage.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAwaitingAcceptance || !o.AssignedTo(driverID) || !o.Expired(now) {
		return nil, false, storage.ErrOrderStateConflict
	}
	o.Status = models.OrderStatusAccepted
	o.DriverID = nil
	o.AcceptanceDeadline = nil

	d := m.db.drivers[driverID]
	suspended := m.db.registerPenalty(d, now)
	out := *d
	return &out, suspended, nil
}

func (db *memDB) registerPenalty(d *models.Driver, now time.Time) bool {
	db.penalties[d.ID] = append(db.penalties[d.ID], now)
	inWindow := 0
	from := now.Add(-models.PenaltyWindow)
	for _, at := range db.penalties[d.ID] {
		if at.After(from) && !at.After(now) {
			inWindow++
		}
	}
	return d.RegisterPenalty(now, inWindow)
}

func (m *memOrders) MarkStuck(_ context.Context, orderID uuid.UUID, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAccepted || o.DriverID != nil {
		return storage.ErrOrderStateConflict
	}
	o.StuckSince = &now
	return nil
}

func (m *memOrders) UpdateStatus(_ context.Context, orderID uuid.UUID, from, to models.OrderStatus, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.Status != from {
		return storage.ErrOrderStateConflict
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (m *memOrders) Cancel(_ context.Context, orderID uuid.UUID, from models.OrderStatus, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.Status != from {
		return storage.ErrOrderStateConflict
	}
	if from == models.OrderStatusAwaitingAcceptance {
		o.DriverID = nil
		o.AcceptanceDeadline = nil
	}
	o.Status = models.OrderStatusCancelled
	o.UpdatedAt = now
	return nil
}

func (m *memOrders) ConfirmPayment(_ context.Context, orderID uuid.UUID, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAwaitingPayment {
		return storage.ErrOrderStateConflict
	}
	o.Status = models.OrderStatusPending
	o.PaymentConfirmed = true
	o.UpdatedAt = now
	return nil
}

type memDrivers struct{ db *memDB }

func (m *memDrivers) Create(_ context.Context, driver *models.Driver) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, d := range m.db.drivers {
		if d.UserID == driver.UserID {
			return storage.ErrDriverExists
		}
	}
	if driver.ID == uuid.Nil {
		driver.ID = uuid.New()
	}
	stored := *driver
	m.db.drivers[driver.ID] = &stored
	return nil
}

func (m *memDrivers) GetByID(_ context.Context, id uuid.UUID) (*models.Driver, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.drivers[id]
	if !ok {
		return nil, storage.ErrDriverNotFound
	}
	out := *d
	return &out, nil
}

func (m *memDrivers) GetByUserID(_ context.Context, userID uuid.UUID) (*models.Driver, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, d := range m.db.drivers {
		if d.UserID == userID {
			out := *d
			return &out, nil
		}
	}
	return nil, storage.ErrDriverNotFound
}

func (m *memDrivers) UpdateLocation(_ context.Context, driverID uuid.UUID, lat, lon float64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.drivers[driverID]
	if !ok {
		return storage.ErrDriverNotFound
	}
	d.Lat, d.Lon = &lat, &lon
	return nil
}

func (m *memDrivers) SetAvailability(_ context.Context, driverID uuid.UUID, available bool, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.drivers[driverID]
	if !ok {
		return storage.ErrDriverNotFound
	}
	if available && d.Suspended(now) {
		return storage.ErrDriverUnavailable
	}
	d.Available = available
	return nil
}

func (m *memDrivers) ListDispatchable(_ context.Context, now time.Time, excluding []uuid.UUID) ([]*models.Driver, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	skip := make(map[uuid.UUID]bool, len(excluding))
	for _, id := range excluding {
		skip[id] = true
	}
	var out []*models.Driver
	for _, d := range m.db.drivers {
		if skip[d.ID] || !d.Dispatchable(now) || m.db.hasLiveOrder(d.ID) {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	return out, nil
}

type memWallets struct{ db *memDB }

func (m *memWallets) EnsureWallet(_ context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	w, ok := m.db.wallets[ownerID]
	if !ok {
		w = &models.Wallet{ID: uuid.New(), OwnerID: ownerID}
		m.db.wallets[ownerID] = w
	}
	out := *w
	return &out, nil
}

func (m *memWallets) GetByOwner(_ context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	w, ok := m.db.wallets[ownerID]
	if !ok {
		return nil, storage.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

func (m *memWallets) ListEntries(_ context.Context, ownerID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	list := m.db.entries[ownerID]
	out := make([]*models.LedgerEntry, 0, len(list))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *memWallets) ApplySettlement(_ context.Context, orderID uuid.UUID, postings []models.Posting) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	o, ok := m.db.orders[orderID]
	if !ok || o.Settled || o.Status != models.OrderStatusDelivered {
		return storage.ErrAlreadySettled
	}
	for _, p := range postings {
		if _, ok := m.db.wallets[p.OwnerID]; !ok {
			return storage.ErrWalletNotFound
		}
	}
	o.Settled = true
	for _, p := range postings {
		id := orderID
		m.db.post(p.OwnerID, &id, models.EntryCredit, p.Amount, p.Description)
	}
	return nil
}

func (db *memDB) post(owner uuid.UUID, orderID *uuid.UUID, kind models.EntryKind, amount decimal.Decimal, description string) {
	w := db.wallets[owner]
	w.Balance = w.Balance.Add(amount)
	db.entries[owner] = append(db.entries[owner], &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    w.ID,
		OrderID:     orderID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (m *memWallets) Withdraw(_ context.Context, ownerID uuid.UUID, amount decimal.Decimal, description string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	w, ok := m.db.wallets[ownerID]
	if !ok {
		return storage.ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return storage.ErrInsufficientBalance
	}
	m.db.post(ownerID, nil, models.EntryDebit, amount.Neg(), description)
	return nil
}

func (m *memWallets) Adjust(_ context.Context, ownerID uuid.UUID, amount decimal.Decimal, description string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	w, ok := m.db.wallets[ownerID]
	if !ok {
		return storage.ErrWalletNotFound
	}
	if w.Balance.Add(amount).IsNegative() {
		return storage.ErrInsufficientBalance
	}
	m.db.post(ownerID, nil, models.EntryAdjustment, amount, description)
	return nil
}

type memCatalog struct{ db *memDB }

func (m *memCatalog) GetRestaurant(_ context.Context, id uuid.UUID) (*models.Restaurant, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.restaurants[id]
	if !ok {
		return nil, storage.ErrRestaurantNotFound
	}
	out := *r
	return &out, nil
}

func (m *memCatalog) GetItem(_ context.Context, restaurantID, itemID uuid.UUID) (*models.MenuItem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	item, ok := m.db.items[itemID]
	if !ok || item.RestaurantID != restaurantID {
		return nil, storage.ErrItemNotFound
	}
	out := *item
	return &out, nil
}

func (m *memCatalog) GetAddon(_ context.Context, itemID, addonID uuid.UUID) (*models.MenuAddon, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	a, ok := m.db.addons[addonID]
	if !ok || a.ItemID != itemID {
		return nil, storage.ErrAddonNotFound
	}
	out := *a
	return &out, nil
}

type memContacts struct{ db *memDB }

func (m *memContacts) Upsert(_ context.Context, c *models.Contact) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	stored := *c
	m.db.contacts[c.UserID] = &stored
	return nil
}

func (m *memContacts) Get(_ context.Context, userID uuid.UUID) (*models.Contact, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.contacts[userID]
	if !ok {
		return nil, storage.ErrContactNotFound
	}
	out := *c
	return &out, nil
}

type memAudit struct{ db *memDB }

func (m *memAudit) Record(_ context.Context, rec models.AuditRecord) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.audit = append(m.db.audit, rec)
	return nil
}

// testClock: управляемые часы.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pushed struct {
	Address string
	Message notify.Message
}

// recordingGateway запоминает отправленные уведомления.
type recordingGateway struct {
	mu   sync.Mutex
	sent []pushed
}

func (g *recordingGateway) Push(_ context.Context, address string, msg notify.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, pushed{Address: address, Message: msg})
	return nil
}

func (g *recordingGateway) count(address string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.sent {
		if p.Address == address {
			n++
		}
	}
	return n
}

// recordingReporter запоминает операционные события.
type recordingReporter struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (r *recordingReporter) Report(_ context.Context, ev alerts.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingReporter) kinds() []alerts.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerts.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
