// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers for the forge service.
package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
	"github.com/AleutianAI/AlchemyLocal/services/forge/datatypes"
	"github.com/AleutianAI/AlchemyLocal/services/forge/generator"
	"github.com/AleutianAI/AlchemyLocal/services/forge/observability"
)

// recordView converts a stored record to its wire form.
func recordView(rec combination.Record) datatypes.CombinationView {
	return datatypes.CombinationView{
		First:          rec.First,
		Second:         rec.Second,
		Result:         rec.Result,
		Emoji:          rec.Emoji,
		SessionID:      rec.SessionID,
		FirstDiscovery: rec.FirstDiscovery,
		DiscoveredAt:   rec.DiscoveredAt,
	}
}

func listView(records []combination.Record) datatypes.ListResponse {
	views := make([]datatypes.CombinationView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView(rec))
	}
	return datatypes.ListResponse{Combinations: views, Count: len(views)}
}

func warningString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// HandleCombine answers POST /v1/combinations.
//
// # Description
//
// Looks the pair up first. A known pair is returned as-is without
// touching the generator. An unknown pair is either recorded verbatim
// (when the request carries result and emoji) or sent to the generator
// for invention, then recorded. Recording detects first discovery and
// broadcasts change events.
//
// Duplicate submissions are idempotent: the stored record wins and the
// response reports isNew=false, firstDiscovery=false.
//
// # Outputs
//
//   - 201 with CombineResponse when a new record was created.
//   - 200 with CombineResponse when the pair was already known.
//   - 400 on validation failure, 502 when the generator fails.
func HandleCombine(store *combination.Store, gen generator.Generator,
	metrics *observability.ForgeMetrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		var req datatypes.CombineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		origin := "manual"

		// Known pairs short-circuit before any generator work.
		if rec, ok := store.Get(req.First, req.Second, req.SessionID); ok {
			metrics.RecordCombination(origin, false)
			c.JSON(http.StatusOK, datatypes.CombineResponse{
				Combination: recordView(rec),
			})
			return
		}

		result, emoji := req.Result, req.Emoji
		generated := false
		if result == "" {
			if gen == nil {
				c.JSON(http.StatusBadRequest,
					gin.H{"error": "no result supplied and no generator configured"})
				return
			}
			origin = "generated"
			start := time.Now()
			combo, err := gen.Combine(c.Request.Context(), req.First, req.Second)
			metrics.RecordGeneratorCall(gen.Backend(), time.Since(start).Seconds(), err)
			if err != nil {
				slog.Error("combination generation failed",
					"backend", gen.Backend(), "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "combination generation failed"})
				return
			}
			result, emoji = combo.Result, combo.Emoji
			generated = true
		}

		rec, outcome, err := store.Add(c.Request.Context(), combination.AddInput{
			First:     req.First,
			Second:    req.Second,
			Result:    result,
			Emoji:     emoji,
			SessionID: req.SessionID,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		metrics.RecordCombination(origin, outcome.Created)
		if outcome.FirstDiscovery {
			metrics.RecordFirstDiscovery()
		}
		if outcome.Warning != nil {
			metrics.RecordSaveFailure()
		}

		status := http.StatusOK
		if outcome.Created {
			status = http.StatusCreated
		}
		c.JSON(status, datatypes.CombineResponse{
			Combination:    recordView(rec),
			IsNew:          outcome.Created,
			FirstDiscovery: outcome.FirstDiscovery,
			Warning:        warningString(outcome.Warning),
			Generated:      generated,
		})
	}
}

// ListCombinations answers GET /v1/combinations. The optional session
// query parameter filters by owning session; absent means everything.
func ListCombinations(store *combination.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Query("session")
		c.JSON(http.StatusOK, listView(store.All(session)))
	}
}

// ListDiscoveries answers GET /v1/combinations/discoveries with the
// records that were first-ever discoveries, same session filtering as
// ListCombinations.
func ListDiscoveries(store *combination.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Query("session")
		c.JSON(http.StatusOK, listView(store.FirstDiscoveries(session)))
	}
}

// CheckDiscovery answers GET /v1/combinations/check?result=Name without
// mutating anything.
func CheckDiscovery(store *combination.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := c.Query("result")
		if result == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "result query parameter is required"})
			return
		}
		c.JSON(http.StatusOK, datatypes.CheckResponse{
			Result:         result,
			FirstDiscovery: store.WouldBeFirstDiscovery(result),
		})
	}
}

// DeleteCombination answers DELETE /v1/combinations. The pair to delete
// comes from the request body.
func DeleteCombination(store *combination.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		key := combination.NewKey(req.SessionID, req.First, req.Second)
		removed, warn := store.Delete(c.Request.Context(), key)
		if !removed {
			c.JSON(http.StatusNotFound, gin.H{"error": "combination not found"})
			return
		}

		slog.Info("combination deleted", "key", key.String())
		c.JSON(http.StatusOK, gin.H{
			"deleted": true,
			"warning": warningString(warn),
		})
	}
}

// ResetStore answers DELETE /v1/data, removing every stored record.
func ResetStore(store *combination.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, warn := store.Reset(c.Request.Context())
		slog.Info("store reset via API", "removed", removed)
		c.JSON(http.StatusOK, gin.H{
			"removed": removed,
			"warning": warningString(warn),
		})
	}
}

// GetStats answers GET /v1/stats.
func GetStats(store *combination.Store, broadcaster *combination.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := store.Stats()
		subscribers := 0
		if broadcaster != nil {
			subscribers = broadcaster.SubscriberCount()
		}
		c.JSON(http.StatusOK, datatypes.StatsResponse{
			TotalCombinations: stats.TotalCombinations,
			FirstDiscoveries:  stats.FirstDiscoveries,
			DistinctResults:   stats.DistinctResults,
			Sessions:          stats.Sessions,
			Subscribers:       subscribers,
		})
	}
}

// ListSessions answers GET /v1/sessions with per-session record counts.
func ListSessions(store *combination.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := store.Stats()
		sessions := make([]datatypes.SessionView, 0, len(stats.Sessions))
		for id, count := range stats.Sessions {
			sessions = append(sessions, datatypes.SessionView{SessionID: id, Records: count})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].SessionID < sessions[j].SessionID
		})
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}
