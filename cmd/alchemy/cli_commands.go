// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AlchemyLocal/services/forge/datatypes"
)

var (
	serverFlag  string
	sessionFlag string

	rootCmd = &cobra.Command{
		Use:   "alchemy",
		Short: "A CLI for the forge combination service",
		Long: `Alchemy talks to a running forged server: combine items, browse
recorded combinations and first discoveries, and watch changes live.`,
	}

	combineCmd = &cobra.Command{
		Use:   "combine [first] [second]",
		Short: "Combine two items and record the outcome",
		Long: `Sends a pair to the server. A known pair returns the stored result;
an unknown pair gets a result from the configured generator and is
recorded. First-ever results are flagged as discoveries.`,
		Args: cobra.ExactArgs(2),
		Run:  runCombineCommand,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List recorded combinations",
		Run:   runListCommand,
	}
	discoveriesOnly bool

	checkCmd = &cobra.Command{
		Use:   "check [result]",
		Short: "Check whether a result name would be a first discovery",
		Args:  cobra.ExactArgs(1),
		Run:   runCheckCommand,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStatsCommand,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [first] [second]",
		Short: "Delete one recorded combination",
		Args:  cobra.ExactArgs(2),
		Run:   runDeleteCommand,
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "DANGER: delete every recorded combination",
		Run:   runResetCommand,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream live change events from the server",
		Long:  `Connects to the server's SSE endpoint and prints each event as it arrives. Interrupt with Ctrl-C.`,
		Run:   runWatchCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "",
		"forged base URL (default http://localhost:12230, or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "",
		"session identifier (default from config.yaml)")
	listCmd.Flags().BoolVar(&discoveriesOnly, "discoveries", false,
		"only show first discoveries")

	rootCmd.AddCommand(combineCmd, listCmd, checkCmd, statsCmd, deleteCmd, resetCmd, watchCmd)
}

// serverURL resolves flag > config > default.
func serverURL() string {
	if serverFlag != "" {
		return strings.TrimSuffix(serverFlag, "/")
	}
	if config.Server != "" {
		return strings.TrimSuffix(config.Server, "/")
	}
	return "http://localhost:12230"
}

func sessionID() string {
	if sessionFlag != "" {
		return sessionFlag
	}
	return config.Session
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// doRequest sends the request and decodes the JSON reply into out.
// Non-2xx replies are returned as errors carrying the server's message.
func doRequest(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL()+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("is forged running at %s? %w", serverURL(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func runCombineCommand(cmd *cobra.Command, args []string) {
	var resp datatypes.CombineResponse
	err := doRequest("POST", "/v1/combinations", datatypes.CombineRequest{
		First:     args[0],
		Second:    args[1],
		SessionID: sessionID(),
	}, &resp)
	if err != nil {
		log.Fatalf("combine failed: %v", err)
	}

	combo := resp.Combination
	fmt.Printf("%s + %s = %s %s\n", combo.First, combo.Second, combo.Result, combo.Emoji)
	if resp.FirstDiscovery {
		fmt.Println("✨ First discovery!")
	}
	if !resp.IsNew {
		fmt.Println("(already known)")
	}
	if resp.Warning != "" {
		fmt.Printf("warning: %s\n", resp.Warning)
	}
}

func runListCommand(cmd *cobra.Command, args []string) {
	path := "/v1/combinations"
	if discoveriesOnly {
		path += "/discoveries"
	}
	if session := sessionID(); session != "" {
		path += "?session=" + url.QueryEscape(session)
	}

	var resp datatypes.ListResponse
	if err := doRequest("GET", path, nil, &resp); err != nil {
		log.Fatalf("list failed: %v", err)
	}

	if resp.Count == 0 {
		fmt.Println("No combinations recorded.")
		return
	}
	for _, combo := range resp.Combinations {
		marker := "  "
		if combo.FirstDiscovery {
			marker = "✨"
		}
		fmt.Printf("%s %s + %s = %s %s  [%s]\n",
			marker, combo.First, combo.Second, combo.Result, combo.Emoji, combo.SessionID)
	}
	fmt.Printf("%d total\n", resp.Count)
}

func runCheckCommand(cmd *cobra.Command, args []string) {
	var resp datatypes.CheckResponse
	path := "/v1/combinations/check?result=" + url.QueryEscape(args[0])
	if err := doRequest("GET", path, nil, &resp); err != nil {
		log.Fatalf("check failed: %v", err)
	}
	if resp.FirstDiscovery {
		fmt.Printf("%q has never been discovered.\n", resp.Result)
	} else {
		fmt.Printf("%q is already taken.\n", resp.Result)
	}
}

func runStatsCommand(cmd *cobra.Command, args []string) {
	var resp datatypes.StatsResponse
	if err := doRequest("GET", "/v1/stats", nil, &resp); err != nil {
		log.Fatalf("stats failed: %v", err)
	}

	fmt.Printf("Combinations:     %d\n", resp.TotalCombinations)
	fmt.Printf("First discoveries: %d\n", resp.FirstDiscoveries)
	fmt.Printf("Distinct results:  %d\n", resp.DistinctResults)
	fmt.Printf("Live observers:    %d\n", resp.Subscribers)
	if len(resp.Sessions) > 0 {
		fmt.Println("Sessions:")
		for id, count := range resp.Sessions {
			fmt.Printf("  %-20s %d\n", id, count)
		}
	}
}

func runDeleteCommand(cmd *cobra.Command, args []string) {
	err := doRequest("DELETE", "/v1/combinations", datatypes.DeleteRequest{
		First:     args[0],
		Second:    args[1],
		SessionID: sessionID(),
	}, nil)
	if err != nil {
		log.Fatalf("delete failed: %v", err)
	}
	fmt.Printf("Deleted %s + %s\n", args[0], args[1])
}

func runResetCommand(cmd *cobra.Command, args []string) {
	fmt.Print("This deletes EVERY recorded combination. Type 'yes' to continue: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	answer, _ := reader.ReadString('\n')
	if strings.TrimSpace(answer) != "yes" {
		fmt.Println("Aborted.")
		return
	}

	var resp struct {
		Removed int `json:"removed"`
	}
	if err := doRequest("DELETE", "/v1/data", nil, &resp); err != nil {
		log.Fatalf("reset failed: %v", err)
	}
	fmt.Printf("Removed %d combinations.\n", resp.Removed)
}

func runWatchCommand(cmd *cobra.Command, args []string) {
	req, err := http.NewRequestWithContext(cmd.Context(), "GET", serverURL()+"/v1/events", nil)
	if err != nil {
		log.Fatalf("watch failed: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream is long-lived.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		log.Fatalf("is forged running at %s? %v", serverURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("server returned %s", resp.Status)
	}

	fmt.Println("Watching for changes (Ctrl-C to stop)...")
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Println(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stream ended: %v", err)
	}
}
