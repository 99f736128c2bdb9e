package cache

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/loopcart/recur/pkg/observability"
	"github.com/loopcart/recur/pkg/plans"
)

// PlanService is a read-through caching layer in front of a plan service.
// Single plans are held in an in-process LRU (L1) backed by Redis (L2);
// per-company resolution results live in Redis only. Write operations
// pass through and invalidate.
type PlanService struct {
	next   plans.Service
	l1     *lru.LRU[string, *plans.SubscriptionPlan]
	redis  *RedisClient
	logger *observability.Logger
}

// NewPlanService creates a caching plan service
func NewPlanService(next plans.Service, redis *RedisClient, config Config, logger *observability.Logger) *PlanService {
	size := config.L1Size
	if size < 16 {
		size = 16
	}
	l1 := lru.NewLRU[string, *plans.SubscriptionPlan](size, nil, config.TTL)

	return &PlanService{
		next:   next,
		l1:     l1,
		redis:  redis,
		logger: logger,
	}
}

func planKey(id int64) string {
	return fmt.Sprintf("plan:%d", id)
}

func availableKey(companyID int64) string {
	return fmt.Sprintf("plans:available:%d", companyID)
}

// Get gets a plan with caching
func (s *PlanService) Get(id int64) (*plans.SubscriptionPlan, error) {
	key := planKey(id)

	if plan, ok := s.l1.Get(key); ok {
		return plan, nil
	}

	ctx := context.Background()
	if data, ok, err := s.redis.Get(ctx, key); err == nil && ok {
		var plan plans.SubscriptionPlan
		if err := json.Unmarshal([]byte(data), &plan); err == nil {
			s.l1.Add(key, &plan)
			return &plan, nil
		}
		// Corrupt entry, drop it
		s.redis.Del(ctx, key)
	} else if err != nil {
		s.logger.WithError(err).Warnf("plan cache read failed for %s", key)
	}

	plan, err := s.next.Get(id)
	if err != nil {
		return nil, err
	}

	s.store(ctx, key, plan)
	return plan, nil
}

// FindAvailableForCompany resolves plans with caching
func (s *PlanService) FindAvailableForCompany(companyID int64) ([]*plans.SubscriptionPlan, error) {
	ctx := context.Background()
	key := availableKey(companyID)

	if data, ok, err := s.redis.Get(ctx, key); err == nil && ok {
		var available []*plans.SubscriptionPlan
		if err := json.Unmarshal([]byte(data), &available); err == nil {
			return available, nil
		}
		s.redis.Del(ctx, key)
	} else if err != nil {
		s.logger.WithError(err).Warnf("plan cache read failed for %s", key)
	}

	available, err := s.next.FindAvailableForCompany(companyID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(available); err == nil {
		if err := s.redis.Set(ctx, key, data); err != nil {
			s.logger.WithError(err).Warnf("plan cache write failed for %s", key)
		}
	}

	return available, nil
}

// Create creates a plan and invalidates resolution results
func (s *PlanService) Create(req *plans.CreatePlanRequest) (*plans.SubscriptionPlan, error) {
	plan, err := s.next.Create(req)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailable()
	return plan, nil
}

// Update updates a plan and refreshes cache entries
func (s *PlanService) Update(id int64, req *plans.UpdatePlanRequest) (*plans.SubscriptionPlan, error) {
	plan, err := s.next.Update(id, req)
	if err != nil {
		return nil, err
	}
	s.invalidatePlan(id)
	s.invalidateAvailable()
	return plan, nil
}

// Publish publishes a plan and invalidates caches
func (s *PlanService) Publish(id int64) (*plans.SubscriptionPlan, error) {
	plan, err := s.next.Publish(id)
	if err != nil {
		return nil, err
	}
	s.invalidatePlan(id)
	s.invalidateAvailable()
	return plan, nil
}

// Archive archives a plan and invalidates caches
func (s *PlanService) Archive(id int64) (*plans.SubscriptionPlan, error) {
	plan, err := s.next.Archive(id)
	if err != nil {
		return nil, err
	}
	s.invalidatePlan(id)
	s.invalidateAvailable()
	return plan, nil
}

// Duplicate copies a plan. The copy is a draft so resolution results are unaffected.
func (s *PlanService) Duplicate(id int64, newName string) (*plans.SubscriptionPlan, error) {
	return s.next.Duplicate(id, newName)
}

// ListForScope passes through to the underlying service
func (s *PlanService) ListForScope(scope plans.PlanScope, ownerID int64) ([]*plans.SubscriptionPlan, error) {
	return s.next.ListForScope(scope, ownerID)
}

// Delete soft-deletes a plan and invalidates caches
func (s *PlanService) Delete(id int64) error {
	if err := s.next.Delete(id); err != nil {
		return err
	}
	s.invalidatePlan(id)
	s.invalidateAvailable()
	return nil
}

// AttachProduct attaches a plan to a product. The plan's assignment count
// changes, so its cache entry is dropped.
func (s *PlanService) AttachProduct(req *plans.AttachProductRequest) (*plans.ProductSubscriptionPlan, error) {
	assignment, err := s.next.AttachProduct(req)
	if err != nil {
		return nil, err
	}
	s.invalidatePlan(req.PlanID)
	return assignment, nil
}

// UpdateProductAssignment passes through to the underlying service
func (s *PlanService) UpdateProductAssignment(productID, planID int64, req *plans.UpdateAssignmentRequest) (*plans.ProductSubscriptionPlan, error) {
	return s.next.UpdateProductAssignment(productID, planID, req)
}

// DetachProduct detaches a plan from a product and drops the plan's cache entry
func (s *PlanService) DetachProduct(productID, planID int64) error {
	if err := s.next.DetachProduct(productID, planID); err != nil {
		return err
	}
	s.invalidatePlan(planID)
	return nil
}

// ListForProduct passes through to the underlying service
func (s *PlanService) ListForProduct(productID int64) ([]*plans.ProductSubscriptionPlan, error) {
	return s.next.ListForProduct(productID)
}

func (s *PlanService) store(ctx context.Context, key string, plan *plans.SubscriptionPlan) {
	s.l1.Add(key, plan)
	if data, err := json.Marshal(plan); err == nil {
		if err := s.redis.Set(ctx, key, data); err != nil {
			s.logger.WithError(err).Warnf("plan cache write failed for %s", key)
		}
	}
}

func (s *PlanService) invalidatePlan(id int64) {
	key := planKey(id)
	s.l1.Remove(key)
	if err := s.redis.Del(context.Background(), key); err != nil {
		s.logger.WithError(err).Warnf("plan cache invalidation failed for %s", key)
	}
}

func (s *PlanService) invalidateAvailable() {
	if err := s.redis.InvalidatePatterns(context.Background(), "plans:available:*"); err != nil {
		s.logger.WithError(err).Warnf("plan resolution cache invalidation failed")
	}
}
