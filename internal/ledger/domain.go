package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServiceType enumerates how a service consumes hours.
type ServiceType string

const (
	// ServiceHourly owns packages directly.
	ServiceHourly ServiceType = "hourly"
	// ServiceLegalProcedure owns ordered stages, each with packages.
	ServiceLegalProcedure ServiceType = "legal_procedure"
	// ServiceFixed accumulates worked hours without deducting packages.
	ServiceFixed ServiceType = "fixed"
)

// PackageStatus enumerates package lifecycle states. The empty status is treated as active.
type PackageStatus string

const (
	// PackageActive accepts deductions while hours remain.
	PackageActive PackageStatus = "active"
	// PackageDepleted is closed and immutable.
	PackageDepleted PackageStatus = "depleted"
)

// LegacyPackageID names the implicit package built from a flat balance.
const LegacyPackageID = "legacy"

// Package is a bucket of purchased hours with its own depletion tracking.
type Package struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Hours          decimal.Decimal `json:"hours"`
	HoursUsed      decimal.Decimal `json:"hoursUsed"`
	HoursRemaining decimal.Decimal `json:"hoursRemaining"`
	OverdraftHours decimal.Decimal `json:"overdraftHours"`
	Status         PackageStatus   `json:"status,omitempty"`
	ClosedDate     *time.Time      `json:"closedDate,omitempty"`
}

// Eligible reports whether the package can absorb a deduction.
func (p Package) Eligible() bool {
	return (p.Status == PackageActive || p.Status == "") && p.HoursRemaining.IsPositive()
}

// Counted reports whether the package contributes to remaining hours.
func (p Package) Counted() bool {
	return p.Status == PackageActive || p.Status == ""
}

// Capacity is the hour source of a service or stage. It has two variants: a package
// list, or (when Packages is nil) the legacy flat balance in Flat. An empty, non-nil
// package list is a package capacity with nothing left.
type Capacity struct {
	Packages []Package       `json:"packages"`
	Flat     decimal.Decimal `json:"hoursRemaining"`
}

// IsLegacy reports whether the capacity is the flat-balance variant.
func (c Capacity) IsLegacy() bool {
	return c.Packages == nil
}

// Stage is one ordered phase of a legal procedure service.
type Stage struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Order int    `json:"order"`
	Capacity
	HoursUsed   decimal.Decimal `json:"hoursUsed"`
	WorkedHours decimal.Decimal `json:"workedHours"`
}

// Service is a billable line of work for a client.
type Service struct {
	ID   string      `json:"id"`
	Name string      `json:"name,omitempty"`
	Type ServiceType `json:"type"`
	Capacity
	HoursUsed    decimal.Decimal `json:"hoursUsed"`
	WorkedHours  decimal.Decimal `json:"workedHours"`
	Stages       []Stage         `json:"stages,omitempty"`
	CurrentStage string          `json:"currentStage,omitempty"`
}

// Stage finds a stage by id.
func (s Service) Stage(id string) (Stage, bool) {
	for _, st := range s.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}

// ResolveStage picks the stage for a posting: the requested one, else the current stage,
// else the first stage in order.
func (s Service) ResolveStage(id string) (Stage, bool) {
	if id != "" {
		return s.Stage(id)
	}
	if s.CurrentStage != "" {
		return s.Stage(s.CurrentStage)
	}
	if len(s.Stages) == 0 {
		return Stage{}, false
	}
	first := s.Stages[0]
	for _, st := range s.Stages[1:] {
		if st.Order < first.Order {
			first = st
		}
	}
	return first, true
}

// WithStage returns a copy of the service with the stage replaced.
func (s Service) WithStage(stage Stage) Service {
	stages := make([]Stage, len(s.Stages))
	for i, st := range s.Stages {
		if st.ID == stage.ID {
			stages[i] = stage
			continue
		}
		stages[i] = st
	}
	s.Stages = stages
	return s
}

// Ledger is the aggregate root for a billable client.
type Ledger struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Services     []Service `json:"services"`
	Version      int64     `json:"_version"`
	LastModified time.Time `json:"_lastModified"`
	ModifiedBy   string    `json:"_modifiedBy"`
}

// CurrentVersion returns the stored version tag.
func (l Ledger) CurrentVersion() int64 {
	return l.Version
}

// Service finds a service by id.
func (l Ledger) Service(id string) (Service, bool) {
	for _, s := range l.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// WithService returns a copy of the ledger with the service replaced.
func (l Ledger) WithService(service Service) Ledger {
	services := make([]Service, len(l.Services))
	for i, s := range l.Services {
		if s.ID == service.ID {
			services[i] = service
			continue
		}
		services[i] = s
	}
	l.Services = services
	return l
}

// Stamp returns a copy carrying the next version and modification metadata.
func (l Ledger) Stamp(version int64, actorID string, at time.Time) Ledger {
	l.Version = version
	l.LastModified = at
	l.ModifiedBy = actorID
	return l
}
