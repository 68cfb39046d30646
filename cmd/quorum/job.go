package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Job commands submit job documents to a running agent over the HTTP API.
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage supervision jobs",
}

var jobAddFollowerCmd = &cobra.Command{
	Use:   "add-follower",
	Short: "Add a replica to a shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		database, _ := cmd.Flags().GetString("database")
		collection, _ := cmd.Flags().GetString("collection")
		shard, _ := cmd.Flags().GetString("shard")
		return submitJob(endpoint, map[string]interface{}{
			"type":       "addFollower",
			"database":   database,
			"collection": collection,
			"shard":      shard,
		})
	},
}

var jobMoveShardCmd = &cobra.Command{
	Use:   "move-shard",
	Short: "Move a shard replica between servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		database, _ := cmd.Flags().GetString("database")
		collection, _ := cmd.Flags().GetString("collection")
		shard, _ := cmd.Flags().GetString("shard")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		isLeader, _ := cmd.Flags().GetBool("leader")
		return submitJob(endpoint, map[string]interface{}{
			"type":       "moveShard",
			"database":   database,
			"collection": collection,
			"shard":      shard,
			"fromServer": from,
			"toServer":   to,
			"isLeader":   isLeader,
		})
	},
}

var jobCleanOutCmd = &cobra.Command{
	Use:   "clean-out",
	Short: "Evacuate all shard replicas off a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		server, _ := cmd.Flags().GetString("server")
		return submitJob(endpoint, map[string]interface{}{
			"type":   "cleanOutServer",
			"server": server,
		})
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		return listJobs(endpoint)
	},
}

func init() {
	for _, c := range []*cobra.Command{jobAddFollowerCmd, jobMoveShardCmd, jobCleanOutCmd, jobListCmd} {
		c.Flags().String("endpoint", "http://127.0.0.1:8529", "Agent endpoint")
	}
	jobAddFollowerCmd.Flags().String("database", "", "Database name")
	jobAddFollowerCmd.Flags().String("collection", "", "Collection name")
	jobAddFollowerCmd.Flags().String("shard", "", "Shard name")

	jobMoveShardCmd.Flags().String("database", "", "Database name")
	jobMoveShardCmd.Flags().String("collection", "", "Collection name")
	jobMoveShardCmd.Flags().String("shard", "", "Shard name")
	jobMoveShardCmd.Flags().String("from", "", "Source server")
	jobMoveShardCmd.Flags().String("to", "", "Destination server")
	jobMoveShardCmd.Flags().Bool("leader", false, "The moved replica leads the shard")

	jobCleanOutCmd.Flags().String("server", "", "Server to clean out")

	jobCmd.AddCommand(jobAddFollowerCmd)
	jobCmd.AddCommand(jobMoveShardCmd)
	jobCmd.AddCommand(jobCleanOutCmd)
	jobCmd.AddCommand(jobListCmd)
}

// submitJob writes a job document into Target/ToDo keyed by a fresh id.
func submitJob(endpoint string, doc map[string]interface{}) error {
	jobID := uuid.NewString()
	doc["jobId"] = jobID
	doc["creator"] = "operator"
	doc["timeCreated"] = time.Now().UTC().Format(time.RFC3339)

	batch := []interface{}{
		[]interface{}{
			map[string]interface{}{
				"/arango/Target/ToDo/" + jobID: doc,
			},
		},
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	resp, err := http.Post(endpoint+"/_api/agency/write", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent rejected job: %s", bytes.TrimSpace(msg))
	}

	fmt.Printf("✓ Job %s submitted\n", jobID)
	return nil
}

// listJobs prints the job ids under each status root.
func listJobs(endpoint string) error {
	paths := []string{
		"/arango/Target/ToDo",
		"/arango/Target/Pending",
		"/arango/Target/Finished",
		"/arango/Target/Failed",
	}
	body, err := json.Marshal(paths)
	if err != nil {
		return err
	}

	resp, err := http.Post(endpoint+"/_api/agency/read", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to read jobs: %w", err)
	}
	defer resp.Body.Close()

	var results []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	labels := []string{"ToDo", "Pending", "Finished", "Failed"}
	for i, label := range labels {
		fmt.Printf("%s:\n", label)
		if i >= len(results) || len(results[i]) == 0 {
			fmt.Println("  (none)")
			continue
		}
		for jobID, raw := range results[i] {
			jobType := ""
			if doc, ok := raw.(map[string]interface{}); ok {
				jobType, _ = doc["type"].(string)
			}
			fmt.Printf("  %s  %s\n", jobID, jobType)
		}
	}
	return nil
}

// printConfig fetches and prints the agent configuration.
func printConfig(endpoint string) error {
	resp, err := http.Get(endpoint + "/_api/agency/config")
	if err != nil {
		return fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()

	var cfg map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
