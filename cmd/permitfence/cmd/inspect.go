package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/permitfence/core"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect KEY",
	Short: "Print the stored permits of a key",
	Long: `Print the token bucket stored for KEY as JSON, without locking or changing it.

Example:
  permitfence inspect payments`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		limiter, err := rt.limiter(cmd, args[0])
		if err != nil {
			return err
		}

		permits, found, err := limiter.Peek(cmd.Context())
		if err != nil {
			rt.logger.Error("inspect failed", "key", args[0], "error", err)
			return err
		}

		nowMillis := time.Now().UnixMilli()
		out := struct {
			Key       string       `json:"key"`
			Found     bool         `json:"found"`
			Permits   core.Permits `json:"permits"`
			Available int64        `json:"available_now"`
			NextWait  string       `json:"next_wait"`
		}{
			Key:       limiter.Key(),
			Found:     found,
			Permits:   permits,
			Available: availableNow(permits, nowMillis),
			NextWait:  core.MillisToDuration(max(0, permits.EarliestAvailable(1, nowMillis))).String(),
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// availableNow returns the permits a caller could take at nowMillis without waiting.
func availableNow(p core.Permits, nowMillis int64) int64 {
	p.Refill(nowMillis)
	if p.NextFreeTicketMillis > nowMillis {
		return 0
	}
	return p.StoredPermits
}

func init() {
	addLimiterFlags(inspectCmd)
	rootCmd.AddCommand(inspectCmd)
}
