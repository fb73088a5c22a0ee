package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harmonyhub/harmony/cmd/util"
)

var (
	// ProjectCommands represents the project command group
	ProjectCommands = &cobra.Command{
		Use:               "project",
		Short:             "Manage projects over the REST API",
		PersistentPreRunE: setupRESTClient,
	}

	httpClient *http.Client
	baseURL    string
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common hub flags to the project command
	util.SetupClientFlags(ProjectCommands)

	// Add subcommands
	ProjectCommands.AddCommand(createCmd)
	ProjectCommands.AddCommand(getCmd)
	ProjectCommands.AddCommand(uploadURLCmd)
}

// setupRESTClient prepares the HTTP client from the common flags
func setupRESTClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	config := util.GetClientConfig()
	baseURL = strings.TrimRight(config.Endpoint, "/")
	httpClient = &http.Client{Timeout: time.Duration(config.TimeoutSecond) * time.Second}
	return nil
}

var (
	createCmd = &cobra.Command{
		Use:   "create [title]",
		Short: "Creates a new project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			return postJSON("/api/projects", map[string]string{"title": title})
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [id]",
		Short: "Shows a project's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := httpClient.Get(baseURL + "/api/projects/" + args[0])
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	uploadURLCmd = &cobra.Command{
		Use:   "upload-url [filename] [filetype]",
		Short: "Requests an asset upload target for a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filetype := ""
			if len(args) == 2 {
				filetype = args[1]
			}
			return postJSON("/api/assets/upload-url", map[string]string{
				"filename": args[0],
				"filetype": filetype,
			})
		},
	}
)

// postJSON sends a JSON body to the hub and prints the response
func postJSON(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// printResponse pretty-prints a JSON response body
func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		// not JSON, print as-is
		fmt.Println(string(data))
	} else {
		fmt.Println(buf.String())
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hub returned %s", resp.Status)
	}
	return nil
}
