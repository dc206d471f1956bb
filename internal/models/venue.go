package models

import "strings"

// Venue is a schedulable location
type Venue struct {
	ID   uint   `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	// Higher priority venues are listed first
	Priority int  `db:"priority" json:"priority"`
	Capacity *int `db:"capacity" json:"capacity,omitempty"`
	// Comma separated proposal types that may be held here
	AllowedTypesText string `db:"allowedTypes" json:"-"`
	// Comma separated proposal types this venue is a default for
	DefaultForTypesText string   `db:"defaultForTypes" json:"-"`
	Latitude            *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude           *float64 `db:"longitude" json:"longitude,omitempty"`
	// Village-run venues that do not take part in central scheduling
	ScheduledContentOnly bool `db:"scheduledContentOnly" json:"scheduledContentOnly"`

	AllowedTypes    []ProposalType `db:"-" json:"allowedTypes"`
	DefaultForTypes []ProposalType `db:"-" json:"defaultForTypes"`
}

// Allows checks if a proposal of the given type may be held in this venue
func (v *Venue) Allows(t ProposalType) bool {
	for _, at := range v.AllowedTypes {
		if at == t {
			return true
		}
	}
	return false
}

// IsDefaultFor checks if the venue is one of the default venues for the given type
func (v *Venue) IsDefaultFor(t ProposalType) bool {
	for _, dt := range v.DefaultForTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// CapacityOrZero returns the capacity, treating an unknown capacity as zero
func (v *Venue) CapacityOrZero() int {
	if v.Capacity == nil {
		return 0
	}
	return *v.Capacity
}

// SplitTypes converts the stored type lists into their slice form
func (v *Venue) SplitTypes() {
	v.AllowedTypes = splitTypes(v.AllowedTypesText)
	v.DefaultForTypes = splitTypes(v.DefaultForTypesText)
}

// JoinTypes converts the slice form of the type lists into their stored form
func (v *Venue) JoinTypes() {
	v.AllowedTypesText = joinTypes(v.AllowedTypes)
	v.DefaultForTypesText = joinTypes(v.DefaultForTypes)
}

func splitTypes(text string) []ProposalType {
	ret := []ProposalType{}
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, ProposalType(part))
		}
	}
	return ret
}

func joinTypes(types []ProposalType) string {
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}
