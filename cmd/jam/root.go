package jam

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harmonyhub/harmony/cmd/util"
	"github.com/harmonyhub/harmony/hub/client"
	"github.com/harmonyhub/harmony/lib/crdt"
)

var (
	// JamCommands represents the jam command group
	JamCommands = &cobra.Command{
		Use:   "jam",
		Short: "Join a project room as a collaborator",
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common hub flags to the jam command
	util.SetupClientFlags(JamCommands)

	// Add subcommands
	JamCommands.AddCommand(tailCmd)
	JamCommands.AddCommand(appendCmd)
}

// newClient creates a not-yet-running client for a project room
func newClient(cmd *cobra.Command, projectID string, handlers client.Handlers) (*client.Client, error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	cdc, err := util.GetCodec()
	if err != nil {
		return nil, err
	}
	config := util.GetClientConfig()
	config.ProjectID = projectID
	return client.New(*config, cdc, handlers), nil
}

var (
	tailCmd = &cobra.Command{
		Use:   "tail [projectId]",
		Short: "Follows a project's document, printing it on every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c *client.Client
			c, err := newClient(cmd, args[0], client.Handlers{
				OnChange: func() {
					fmt.Printf("--- %s ---\n%s\n", time.Now().Format(time.TimeOnly), c.Bytes())
				},
				OnPresence: func(clientID string, payload []byte) {
					if len(payload) == 0 {
						fmt.Printf("* %s left\n", clientID)
					} else {
						fmt.Printf("* %s: %s\n", clientID, payload)
					}
				},
			})
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				c.Close()
			}()

			if err := c.Run(); err != nil {
				return err
			}
			fmt.Printf("final document:\n%s\n", c.Bytes())
			return nil
		},
	}
	appendCmd = &cobra.Command{
		Use:   "append [projectId] [text]",
		Short: "Appends text to the end of a project's document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, args[0], client.Handlers{})
			if err != nil {
				return err
			}

			done := make(chan error, 1)
			go func() { done <- c.Run() }()

			// wait for the initial sync before editing
			time.Sleep(time.Second)

			left := crdt.ID{}
			if elems := c.Elements(); len(elems) > 0 {
				left = elems[len(elems)-1].ID
			}
			for _, b := range []byte(args[1]) {
				left, err = c.InsertAfter(left, []byte{b})
				if err != nil {
					return err
				}
			}
			_ = c.SendPresence([]byte(fmt.Sprintf(`{"status":"appended %d bytes"}`, len(args[1]))))

			// give the hub a moment to fan the edits out before closing
			time.Sleep(time.Second)
			c.Close()
			if err := <-done; err != nil {
				return err
			}
			fmt.Println("appended successfully")
			return nil
		},
	}
)
