package service

import (
	"strings"

	"github.com/digkill/imagify/internal/models"
)

// defaultPlans mirrors the backend catalog by identifier.
var defaultPlans = []models.Plan{
	{ID: "basic", Description: "Basic Plan", Price: 500, Credits: 100},
	{ID: "standard", Description: "Standard Plan", Price: 1000, Credits: 250},
	{ID: "premium", Description: "Premium Plan", Price: 2000, Credits: 500},
}

type PlanService struct {
	plans []models.Plan
}

func NewPlanService() *PlanService {
	plans := make([]models.Plan, len(defaultPlans))
	copy(plans, defaultPlans)
	return &PlanService{plans: plans}
}

func (s *PlanService) List() []models.Plan {
	out := make([]models.Plan, len(s.plans))
	copy(out, s.plans)
	return out
}

// Get looks a plan up by identifier, ignoring case and surrounding space.
func (s *PlanService) Get(id string) (models.Plan, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range s.plans {
		if p.ID == id {
			return p, true
		}
	}
	return models.Plan{}, false
}
