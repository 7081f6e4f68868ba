package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/fault"
)

// Service encapsulates catalog management and listing.
type Service struct {
	items Repository
	now   func() time.Time

	// Listings are cached per seller filter; Search runs on top of them.
	cache *expirable.LRU[string, []Item]
	group singleflight.Group
	gen   atomic.Uint64
}

// NewService creates a catalog Service. A cacheSize of zero disables the
// listing cache.
func NewService(items Repository, cacheSize int, cacheTTL time.Duration) *Service {
	s := &Service{
		items: items,
		now:   time.Now,
	}
	if cacheSize > 0 {
		s.cache = expirable.NewLRU[string, []Item](cacheSize, nil, cacheTTL)
	}
	return s
}

// Create lists a new item on behalf of the acting seller.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in NewItem) (*Item, error) {
	if err := actor.Require(auth.RoleSeller); err != nil {
		return nil, err
	}

	store := actor.Name
	if store == "" {
		store = actor.ID
	}
	now := s.now().UTC()
	it := &Item{
		ID:          uuid.New().String(),
		SellerID:    actor.ID,
		StoreName:   store,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price.Round(2),
		Quantity:    in.Quantity,
		Category:    in.Category,
		Image:       in.Image,
		Attributes:  in.Attributes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if it.Image == "" {
		it.Image = DefaultImage
	}
	if err := it.Validate(); err != nil {
		return nil, err
	}

	if err := s.items.Create(ctx, it); err != nil {
		return nil, errors.Wrap(err, "create item")
	}
	s.InvalidateListings()

	zctx.From(ctx).Info("Catalog item created",
		zap.String("item_id", it.ID),
		zap.String("seller_id", it.SellerID),
	)
	return it, nil
}

// Update merges patch into the item owned by the acting seller.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, patch ItemPatch) (*Item, error) {
	if err := actor.Require(auth.RoleSeller); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	it, err := s.items.Update(ctx, id, func(it *Item) error {
		if it.SellerID != actor.ID {
			return ErrNotOwner
		}
		patch.Apply(it)
		it.Price = it.Price.Round(2)
		if it.Image == "" {
			it.Image = DefaultImage
		}
		if err := it.Validate(); err != nil {
			return err
		}
		it.UpdatedAt = now
		return nil
	})
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			return nil, errors.Wrap(err, "update item")
		}
		return nil, err
	}
	s.InvalidateListings()
	return it, nil
}

// Delete removes the item owned by the acting seller.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.items.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete item")
	}
	s.InvalidateListings()

	zctx.From(ctx).Info("Catalog item deleted", zap.String("item_id", id))
	return nil
}

// Get returns a single item.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	return s.items.Get(ctx, id)
}

// List returns the items matching q in creation order.
func (s *Service) List(ctx context.Context, q Query) ([]Item, error) {
	items, err := s.listings(ctx, q.SellerID)
	if err != nil {
		return nil, err
	}
	return Search(items, q.Criteria), nil
}

// InvalidateListings drops every cached listing. Stock changes made outside
// this service, such as order placement, must call it.
func (s *Service) InvalidateListings() {
	s.gen.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *Service) owned(ctx context.Context, actor auth.Principal, id string) (*Item, error) {
	if err := actor.Require(auth.RoleSeller); err != nil {
		return nil, err
	}
	it, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.SellerID != actor.ID {
		return nil, ErrNotOwner
	}
	return it, nil
}

func (s *Service) listings(ctx context.Context, sellerID string) ([]Item, error) {
	if s.cache == nil {
		return s.items.List(ctx, sellerID)
	}
	if items, ok := s.cache.Get(sellerID); ok {
		return items, nil
	}

	v, err, _ := s.group.Do(sellerID, func() (any, error) {
		gen := s.gen.Load()
		items, err := s.items.List(ctx, sellerID)
		if err != nil {
			return nil, err
		}
		// A write during the load makes the result stale.
		if s.gen.Load() == gen {
			s.cache.Add(sellerID, items)
		}
		return items, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	return v.([]Item), nil
}
