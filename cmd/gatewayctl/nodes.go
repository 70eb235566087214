package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"ai_gateway/internal/models"
	"ai_gateway/internal/nodes"
)

// nodesCmd manages self-hosted inference nodes (admin token required)
func nodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Manage self-hosted inference nodes",
		Long:  "Register, remove, list and probe Ollama-compatible nodes. Requires an admin token.",
	}

	cmd.AddCommand(
		nodesAddCmd(),
		nodesRemoveCmd(),
		nodesListCmd(),
		nodesTestCmd(),
		nodesWatchCmd(),
	)
	return cmd
}

func nodesAddCmd() *cobra.Command {
	var spec nodes.NodeSpec
	cmd := &cobra.Command{
		Use:   "add <name> <host> [port]",
		Short: "Register a node",
		Long: `Register a node. The port defaults to 11434.

Examples:
  gatewayctl nodes add "Mac M1 Studio" 192.168.1.20
  gatewayctl nodes add gpu-box gpu.lan 11434 --public`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			spec.Hostname = args[1]
			spec.Port = 11434
			if len(args) == 3 {
				port, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("invalid port %q", args[2])
				}
				spec.Port = port
			}

			ctx, cancel := requestContext(timeout)
			defer cancel()
			data, err := client().do(ctx, http.MethodPost, "/admin/nodes", spec)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(data))
				return nil
			}

			var node models.InferenceNode
			if err := json.Unmarshal(data, &node); err != nil {
				return err
			}
			fmt.Printf("%s registered node %d (%s)\n", okMark(), node.ID, node.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&spec.IsPublic, "public", false, "Make the node available to every user")
	return cmd
}

func nodesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Remove a node",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(timeout)
			defer cancel()
			if _, err := client().do(ctx, http.MethodDelete, fmt.Sprintf("/admin/nodes/%d", id), nil); err != nil {
				return err
			}
			fmt.Printf("%s removed node %d\n", okMark(), id)
			return nil
		},
	}
}

func nodesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered nodes and their last health",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(timeout)
			defer cancel()
			data, err := client().do(ctx, http.MethodGet, "/admin/nodes", nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(data))
				return nil
			}

			var resp struct {
				Data []models.InferenceNode `json:"data"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return err
			}
			fmt.Print(renderNodes(resp.Data))
			return nil
		},
	}
}

func nodesTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Probe a node now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(timeout)
			defer cancel()
			data, err := client().do(ctx, http.MethodPost, fmt.Sprintf("/admin/nodes/%d/test", id), nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(data))
				return nil
			}

			var health models.NodeHealth
			if err := json.Unmarshal(data, &health); err != nil {
				return err
			}
			fmt.Printf("node %d: %s", id, statusLabel(health.Status))
			if health.LastResponseTimeMS != nil {
				fmt.Printf(" in %dms", *health.LastResponseTimeMS)
			}
			fmt.Println()
			if len(health.AdvertisedModels) > 0 {
				fmt.Printf("  models: %s\n", strings.Join(health.AdvertisedModels, ", "))
			}
			return nil
		},
	}
}

func nodesWatchCmd() *cobra.Command {
	var (
		addr  string
		topic string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow node health transitions published on Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				return fmt.Errorf("--redis or REDIS_ADDRESS is required")
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     addr,
				Password: os.Getenv("REDIS_PASSWORD"),
			})
			defer rdb.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Watching %s on %s (Ctrl-C to stop)\n", topic, addr)
			return nodes.SubscribeHealth(ctx, rdb, topic, func(ev nodes.HealthEvent) {
				if jsonOutput {
					data, _ := json.Marshal(ev)
					fmt.Println(string(data))
					return
				}
				fmt.Println(renderHealthEvent(ev))
			})
		},
	}
	cmd.Flags().StringVar(&addr, "redis", os.Getenv("REDIS_ADDRESS"), "Redis address")
	cmd.Flags().StringVar(&topic, "topic", envOr("REDIS_HEALTH_TOPIC", "gateway:nodes:health"), "Health channel")
	return cmd
}

func parseNodeID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return id, nil
}
