package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"ai_gateway/internal/gateway"
	"ai_gateway/internal/models"
	"ai_gateway/internal/router"
)

func generateCmd() *cobra.Command {
	var (
		model  string
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt...>",
		Short: "Send a prompt through the gateway",
		Long: `Send a prompt and print the reply and the route that served it.

Examples:
  gatewayctl generate "why is the sky blue"
  gatewayctl generate --model client:3:llama3.1 --stream "tell me a story"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.GenerationRequest{
				Prompt: strings.Join(args, " "),
				Model:  model,
			}

			ctx, cancel := requestContext(timeout)
			defer cancel()

			if !stream {
				data, err := client().do(ctx, http.MethodPost, "/v1/generate", req)
				if err != nil {
					return err
				}
				if jsonOutput {
					fmt.Println(string(data))
					return nil
				}
				var reply gateway.Reply
				if err := json.Unmarshal(data, &reply); err != nil {
					return err
				}
				fmt.Println(reply.Text)
				fmt.Fprintln(os.Stderr, color.HiBlackString("via %s (%d attempt(s))", reply.Route, reply.Attempts))
				return nil
			}

			var failure error
			err := client().stream(ctx, "/v1/generate/stream", req, func(ev streamEvent) {
				if jsonOutput {
					fmt.Printf("%s\t%s\n", ev.Name, ev.Data)
					return
				}
				switch ev.Name {
				case "start":
					fmt.Fprintln(os.Stderr, color.HiBlackString("via %s", gjson.Get(ev.Data, "route").String()))
				case "error":
					failure = fmt.Errorf("stream failed: %s", gjson.Get(ev.Data, "error").String())
				case "done":
					fmt.Println()
				default:
					fmt.Print(gjson.Get(ev.Data, "text").String())
				}
			})
			if err != nil {
				return err
			}
			return failure
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name or provider-qualified identifier")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Stream the reply as it is generated")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models you can request explicitly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(timeout)
			defer cancel()
			data, err := client().do(ctx, http.MethodGet, "/v1/models", nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(data))
				return nil
			}

			var resp struct {
				Data []router.ModelOption `json:"data"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return err
			}
			fmt.Print(renderModels(resp.Data))
			return nil
		},
	}
}
