package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gurkanbulca/taskboard/internal/client"
	"github.com/gurkanbulca/taskboard/internal/view"
)

const clearScreen = "\033[H\033[2J"

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "tasks",
	Short:   "Show the task list and redraw it on every change",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		list, err := a.openList(cmd.Context())
		if err != nil {
			return err
		}
		defer list.SignedOut()
		if err := applySort(cmd, list); err != nil {
			return err
		}

		changed := make(chan struct{}, 1)
		stop := list.OnChange(func(view.Snapshot) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer stop()

		// Auth listeners can run on the subscription goroutine, so sign-outs
		// are handled here rather than inside the listener.
		signedOut := make(chan struct{}, 1)
		if a.auth != nil {
			stopAuth := a.auth.OnAuthStateChanged(func(u *client.User) {
				if u == nil {
					select {
					case signedOut <- struct{}{}:
					default:
					}
				}
			})
			defer stopAuth()
		}

		draw := func(s view.Snapshot) {
			fmt.Fprint(a.out, clearScreen)
			fmt.Fprintf(a.out, "taskboard  %s  (Ctrl+C to quit)\n", time.Now().Format(time.Kitchen))
			printGrouped(a.out, s)
		}
		draw(list.Snapshot())

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-signedOut:
				return errNotSignedIn
			case <-changed:
				draw(list.Snapshot())
			}
		}
	}),
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if a.local != nil {
			return errLocalMode
		}
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()

		resp, err := grpc_health_v1.NewHealthClient(a.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		fmt.Fprintf(a.out, "%s: %s\n", v.GetString("server"), resp.Status)
		if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
			return fmt.Errorf("server is %s", resp.Status)
		}
		return nil
	}),
}

func init() {
	addSortFlags(watchCmd)
	rootCmd.AddCommand(watchCmd, healthCmd)
}
