// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the forge
// service HTTP API.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxItemNameBytes is the maximum size of a single item name.
	// Bounds request payloads; checked in bytes, not runes.
	MaxItemNameBytes = 256

	// MaxSessionIDBytes is the maximum size of a session identifier.
	MaxSessionIDBytes = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// combinationValidate is the validator instance for forge datatypes.
var combinationValidate *validator.Validate

func init() {
	combinationValidate = validator.New()
}

// =============================================================================
// Request Types
// =============================================================================

// CombineRequest is the body of POST /v1/combinations.
//
// First and Second are required. Result and Emoji are optional: when
// both are present the pair is recorded verbatim (manual entry); when
// absent and the pair is unknown, the generator invents them.
type CombineRequest struct {
	First     string `json:"first" validate:"required,max=256"`
	Second    string `json:"second" validate:"required,max=256"`
	Result    string `json:"result,omitempty" validate:"max=256"`
	Emoji     string `json:"emoji,omitempty" validate:"max=64"`
	SessionID string `json:"sessionId,omitempty" validate:"max=128"`
}

// Validate checks field constraints. Returns a caller-displayable error.
func (r *CombineRequest) Validate() error {
	if err := combinationValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid combine request: %w", err)
	}
	// Result and emoji travel together: a manual entry must supply both.
	if (r.Result == "") != (r.Emoji == "") {
		return fmt.Errorf("invalid combine request: result and emoji must be supplied together")
	}
	return nil
}

// DeleteRequest is the body of DELETE /v1/combinations.
type DeleteRequest struct {
	First     string `json:"first" validate:"required,max=256"`
	Second    string `json:"second" validate:"required,max=256"`
	SessionID string `json:"sessionId,omitempty" validate:"max=128"`
}

// Validate checks field constraints.
func (r *DeleteRequest) Validate() error {
	if err := combinationValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid delete request: %w", err)
	}
	return nil
}

// =============================================================================
// Response Types
// =============================================================================

// CombinationView is the wire form of one stored record.
type CombinationView struct {
	First          string    `json:"first"`
	Second         string    `json:"second"`
	Result         string    `json:"result"`
	Emoji          string    `json:"emoji"`
	SessionID      string    `json:"sessionId"`
	FirstDiscovery bool      `json:"wasFirstDiscovery"`
	DiscoveredAt   time.Time `json:"discoveredAt"`
}

// CombineResponse answers POST /v1/combinations. IsNew and
// FirstDiscovery describe this call, not the stored record: repeating a
// known pair yields IsNew=false and FirstDiscovery=false regardless of
// how the record was originally created.
type CombineResponse struct {
	Combination CombinationView `json:"combination"`
	IsNew       bool            `json:"isNew"`
	// FirstDiscovery reports whether this call caused a first-ever
	// discovery of the result name.
	FirstDiscovery bool `json:"firstDiscovery"`
	// Warning carries a non-fatal problem (e.g. the durable save
	// failed) without failing the request.
	Warning string `json:"warning,omitempty"`
	// Generated reports whether the result came from the generator
	// rather than the request body.
	Generated bool `json:"generated,omitempty"`
}

// ListResponse answers the listing endpoints.
type ListResponse struct {
	Combinations []CombinationView `json:"combinations"`
	Count        int               `json:"count"`
}

// CheckResponse answers GET /v1/combinations/check.
type CheckResponse struct {
	Result         string `json:"result"`
	FirstDiscovery bool   `json:"wouldBeFirstDiscovery"`
}

// StatsResponse answers GET /v1/stats.
type StatsResponse struct {
	TotalCombinations int            `json:"totalCombinations"`
	FirstDiscoveries  int            `json:"firstDiscoveries"`
	DistinctResults   int            `json:"distinctResults"`
	Sessions          map[string]int `json:"sessions"`
	Subscribers       int            `json:"subscribers"`
}

// SessionView is one entry in GET /v1/sessions.
type SessionView struct {
	SessionID string `json:"sessionId"`
	Records   int    `json:"records"`
}
