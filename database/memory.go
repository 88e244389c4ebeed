package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"nfcauth/models"
	"nfcauth/utils"
)

// MemoryStore хранилище в памяти.
// Карта владеет списком своих касаний, касание - списком своих возвратов,
// поэтому каскадное удаление идет по структуре, а не по поиску.
// Откатов нет: изменения внутри WithCardLock применяются сразу.
type MemoryStore struct {
	mu      sync.RWMutex
	cards   map[string]*memCard
	hits    map[string]*memHit
	refunds map[string]models.Refund
	locks   *utils.KeyedMutex
	now     func() time.Time
}

type memCard struct {
	card   models.Card
	hitIDs []string
}

type memHit struct {
	hit       models.Hit
	refundIDs []string
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:   make(map[string]*memCard),
		hits:    make(map[string]*memHit),
		refunds: make(map[string]models.Refund),
		locks:   utils.NewKeyedMutex(),
		now:     time.Now,
	}
}

func (s *MemoryStore) findCardLocked(match func(*models.Card) bool) (*models.Card, error) {
	for _, c := range s.cards {
		if match(&c.card) {
			card := c.card
			return &card, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) CreateCard(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card.UID = strings.ToUpper(card.UID)
	card.ExternalID = strings.ToLower(card.ExternalID)
	if _, ok := s.cards[card.ID]; ok {
		return ErrDuplicate
	}
	for _, c := range s.cards {
		if c.card.ExternalID == card.ExternalID {
			return ErrDuplicate
		}
	}
	if card.Time.IsZero() {
		card.Time = s.now()
	}
	s.cards[card.ID] = &memCard{card: *card}
	return nil
}

func (s *MemoryStore) UpdateCard(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[card.ID]
	if !ok {
		return ErrRecordNotFound
	}
	c.card.Npub = card.Npub
	c.card.CardName = card.CardName
	c.card.TxLimit = card.TxLimit
	c.card.DailyLimit = card.DailyLimit
	c.card.Enable = card.Enable
	c.card.K0 = card.K0
	c.card.K1 = card.K1
	c.card.K2 = card.K2
	return nil
}

func (s *MemoryStore) GetCard(_ context.Context, id string) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	card := c.card
	return &card, nil
}

func (s *MemoryStore) GetCardByUID(_ context.Context, uid string) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid = strings.ToUpper(uid)
	return s.findCardLocked(func(c *models.Card) bool { return c.UID == uid })
}

func (s *MemoryStore) GetCardByExternalID(_ context.Context, externalID string) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	externalID = strings.ToLower(externalID)
	return s.findCardLocked(func(c *models.Card) bool { return c.ExternalID == externalID })
}

func (s *MemoryStore) GetCardByOTP(_ context.Context, otp string) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findCardLocked(func(c *models.Card) bool { return c.OTP == otp })
}

func (s *MemoryStore) GetCards(_ context.Context, walletIDs []string) ([]models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make(map[string]struct{}, len(walletIDs))
	for _, w := range walletIDs {
		wallets[w] = struct{}{}
	}
	cards := []models.Card{}
	for _, c := range s.cards {
		if _, ok := wallets[c.card.Wallet]; ok {
			cards = append(cards, c.card)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Time.Before(cards[j].Time) })
	return cards, nil
}

func (s *MemoryStore) UpdateCardCounter(_ context.Context, cardID string, counter uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[cardID]
	if !ok {
		return ErrRecordNotFound
	}
	c.card.Counter = counter
	return nil
}

func (s *MemoryStore) SetCardEnabled(_ context.Context, cardID string, enable bool) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[cardID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	c.card.Enable = enable
	card := c.card
	return &card, nil
}

func (s *MemoryStore) RotateOTP(_ context.Context, oldOTP, newOTP string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cards {
		if c.card.OTP == oldOTP {
			c.card.OTP = newOTP
			card := c.card
			return &card, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) DeleteCard(_ context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[cardID]
	if !ok {
		return ErrRecordNotFound
	}
	for _, hitID := range c.hitIDs {
		if h, ok := s.hits[hitID]; ok {
			for _, refundID := range h.refundIDs {
				delete(s.refunds, refundID)
			}
		}
		delete(s.hits, hitID)
	}
	delete(s.cards, cardID)
	return nil
}

func (s *MemoryStore) CreateHit(_ context.Context, hit *models.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[hit.CardID]
	if !ok {
		return ErrRecordNotFound
	}
	if _, ok := s.hits[hit.ID]; ok {
		return ErrDuplicate
	}
	if hit.Time.IsZero() {
		hit.Time = s.now()
	}
	s.hits[hit.ID] = &memHit{hit: *hit}
	c.hitIDs = append(c.hitIDs, hit.ID)
	return nil
}

func (s *MemoryStore) GetHit(_ context.Context, id string) (*models.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hits[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	hit := h.hit
	return &hit, nil
}

func (s *MemoryStore) GetHits(_ context.Context, cardIDs []string) ([]models.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := []models.Hit{}
	for _, cardID := range cardIDs {
		c, ok := s.cards[cardID]
		if !ok {
			continue
		}
		for _, hitID := range c.hitIDs {
			hits = append(hits, s.hits[hitID].hit)
		}
	}
	return hits, nil
}

func (s *MemoryStore) GetHitsSince(_ context.Context, cardID string, since time.Time) ([]models.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := []models.Hit{}
	c, ok := s.cards[cardID]
	if !ok {
		return hits, nil
	}
	for _, hitID := range c.hitIDs {
		h := s.hits[hitID].hit
		if !h.Time.Before(since) {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func (s *MemoryStore) SpendHit(_ context.Context, hitID string, amount int64) (*models.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hits[hitID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if h.hit.Spent {
		return nil, ErrAlreadySpent
	}
	h.hit.Spent = true
	h.hit.Amount = amount
	hit := h.hit
	return &hit, nil
}

func (s *MemoryStore) CreateRefund(_ context.Context, refund *models.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refunds[refund.ID]; ok {
		return ErrDuplicate
	}
	if refund.Time.IsZero() {
		refund.Time = s.now()
	}
	s.refunds[refund.ID] = *refund
	// возврат без существующего касания хранится, но не попадает в каскад
	if h, ok := s.hits[refund.HitID]; ok {
		h.refundIDs = append(h.refundIDs, refund.ID)
	}
	return nil
}

func (s *MemoryStore) GetRefund(_ context.Context, id string) (*models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.refunds[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

func (s *MemoryStore) GetRefunds(_ context.Context, hitIDs []string) ([]models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(hitIDs))
	for _, id := range hitIDs {
		wanted[id] = struct{}{}
	}
	refunds := []models.Refund{}
	for _, r := range s.refunds {
		if _, ok := wanted[r.HitID]; ok {
			refunds = append(refunds, r)
		}
	}
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].Time.Before(refunds[j].Time) })
	return refunds, nil
}

// WithCardLock сериализует работу с картой через мьютекс по id карты
func (s *MemoryStore) WithCardLock(ctx context.Context, cardID string, fn func(tx Store, card *models.Card) error) error {
	unlock := s.locks.Lock(cardID)
	defer unlock()

	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	return fn(s, card)
}
