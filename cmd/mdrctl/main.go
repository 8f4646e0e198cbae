package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var daemonAddr string

var ancLevel int
var ancFocus bool

var rootCmd = &cobra.Command{
	Use:   "mdrctl",
	Short: "Control a Sony MDR headset through a running mdrd daemon",
	Long: `mdrctl talks to the mdrd daemon's HTTP API to inspect and control a
connected Sony WH-1000XM headset: noise cancelling, equalizer, volume,
DSEE upscaling, speak-to-chat and playback.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:5050", "mdrd daemon address")

	ancCmd.Flags().IntVar(&ancLevel, "level", 10, "ambient sound level (0-20)")
	ancCmd.Flags().BoolVar(&ancFocus, "focus", false, "focus on voice in ambient mode")

	rootCmd.AddCommand(devicesCmd, connectCmd, disconnectCmd, statusCmd,
		ancCmd, eqCmd, volumeCmd, dseeCmd, stcCmd,
		playbackCommand("play"), playbackCommand("pause"),
		playbackCommand("next"), playbackCommand("prev"))
}

func apiGet(path string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(daemonAddr + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func apiPost(path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(daemonAddr+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	os.Stdout.Write(raw)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known headsets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiGet("/api/devices")
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [address]",
	Short: "Connect to a headset (first discovered when no address given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{}
		if len(args) == 1 {
			body["address"] = args[0]
		}
		return apiPost("/api/connect", body)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect from the headset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiPost("/api/disconnect", map[string]string{})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached device state snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiGet("/api/status")
	},
}

var ancCmd = &cobra.Command{
	Use:   "anc <off|nc|ambient>",
	Short: "Set the noise control mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiPost("/api/anc", map[string]interface{}{
			"mode":  args[0],
			"level": ancLevel,
			"focus": ancFocus,
		})
	},
}

var eqCmd = &cobra.Command{
	Use:   "eq <preset>",
	Short: "Select an equalizer preset (off, rock, pop, jazz, bass, ...)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiPost("/api/eq", map[string]string{"preset": args[0]})
	},
}

var volumeCmd = &cobra.Command{
	Use:   "volume <0-30>",
	Short: "Set the music volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("volume must be a number: %w", err)
		}
		return apiPost("/api/volume", map[string]int{"level": level})
	},
}

var dseeCmd = &cobra.Command{
	Use:   "dsee <on|off>",
	Short: "Enable or disable DSEE upscaling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return apiPost("/api/dsee", map[string]bool{"enabled": enabled})
	},
}

var stcCmd = &cobra.Command{
	Use:   "stc <on|off>",
	Short: "Enable or disable speak-to-chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return apiPost("/api/speak-to-chat", map[string]bool{"enabled": enabled})
	},
}

func playbackCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: "Playback control: " + action,
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiPost("/api/playback", map[string]string{"action": action})
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
