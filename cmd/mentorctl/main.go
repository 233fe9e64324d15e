package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	path := flag.String("config", defaultConfigPath, "path to the YAML config")
	flag.Parse()

	c, err := newConsole(os.Stdin, os.Stdout, *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	c.loop()
}

type console struct {
	in     *bufio.Reader
	out    io.Writer
	path   string
	cfg    *config.Config
	client *http.Client
}

func newConsole(in io.Reader, out io.Writer, path string) (*console, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &console{
		in:     bufio.NewReader(in),
		out:    out,
		path:   path,
		cfg:    cfg,
		client: &http.Client{Timeout: 3 * time.Second},
	}, nil
}

func (c *console) loop() {
	for {
		fmt.Fprintln(c.out, "\n=== Gold Mentor Control ===")
		fmt.Fprintln(c.out, "1) Show configuration summary")
		fmt.Fprintln(c.out, "2) Edit risk and session knobs")
		fmt.Fprintln(c.out, "3) Edit iceberg thresholds")
		fmt.Fprintln(c.out, "4) Save config")
		fmt.Fprintln(c.out, "5) Show live decision")
		fmt.Fprintln(c.out, "6) Launch mentor")
		fmt.Fprintln(c.out, "7) Reload config from disk")
		fmt.Fprintln(c.out, "0) Exit")
		fmt.Fprint(c.out, "Select option: ")

		input, err := c.in.ReadString('\n')
		choice := strings.TrimSpace(input)
		if err != nil && choice == "" {
			return
		}

		switch choice {
		case "1":
			c.printSummary()
		case "2":
			c.editRisk()
		case "3":
			c.editIceberg()
		case "4":
			if err := c.save(); err != nil {
				fmt.Fprintf(c.out, "save failed: %v\n", err)
			} else {
				fmt.Fprintln(c.out, "config saved")
			}
		case "5":
			if err := c.showDecision(); err != nil {
				fmt.Fprintf(c.out, "query failed: %v\n", err)
			}
		case "6":
			c.launchMentor()
		case "7":
			reloaded, err := config.Load(c.path)
			if err != nil {
				fmt.Fprintf(c.out, "reload failed: %v\n", err)
			} else {
				c.cfg = reloaded
				fmt.Fprintln(c.out, "config reloaded")
			}
		case "0":
			return
		default:
			fmt.Fprintln(c.out, "unknown option")
		}
	}
}

func (c *console) printSummary() {
	cfg := c.cfg
	fmt.Fprintln(c.out, "\n--- Configuration Summary ---")
	fmt.Fprintf(c.out, "Symbol: %s (%s candles, step %.2f)\n", cfg.Market.Symbol, cfg.Market.BaseTimeframe, cfg.Market.PriceStep)
	fmt.Fprintf(c.out, "Feed: %s %s\n", cfg.Feed.Provider, cfg.Feed.URL)
	fmt.Fprintf(c.out, "Iceberg: min qty %d, ratio %.2f, window %d ticks, memory %d days\n",
		cfg.Iceberg.MinQty, cfg.Iceberg.Ratio, cfg.Iceberg.WindowSize, cfg.Iceberg.MemoryDays)
	fmt.Fprintf(c.out, "Outcome: min move %.2f, weak wick %.2f\n", cfg.Iceberg.MinMove, cfg.Iceberg.WeakWick)
	fmt.Fprintf(c.out, "Confidence threshold: %.0f%%\n", cfg.Decision.ConfidenceThreshold*100)
	fmt.Fprintf(c.out, "Balance: $%.2f | risk %.2f%% | stop %.2f points | daily loss limit %d | locked %t\n",
		cfg.Risk.Balance, cfg.Risk.RiskPct*100, cfg.Risk.StopPoints, cfg.Risk.DailyLossLimit, cfg.Risk.Locked)
	fmt.Fprintf(c.out, "HTTP: %s\n", cfg.HTTP.Addr)
}

func (c *console) editRisk() {
	fmt.Fprintln(c.out, "\n--- Edit Risk / Session ---")
	c.cfg.Risk.Balance = c.promptFloat("Balance", c.cfg.Risk.Balance)
	c.cfg.Risk.RiskPct = c.promptPercent("Risk per trade (%)", c.cfg.Risk.RiskPct)
	c.cfg.Risk.StopPoints = c.promptFloat("Stop distance (points)", c.cfg.Risk.StopPoints)
	c.cfg.Risk.DailyLossLimit = int(c.promptFloat("Daily loss limit (losing trades)", float64(c.cfg.Risk.DailyLossLimit)))
	c.cfg.Decision.ConfidenceThreshold = c.promptPercent("Confidence threshold (%)", c.cfg.Decision.ConfidenceThreshold)
	c.cfg.Risk.Locked = c.promptBool("Session locked", c.cfg.Risk.Locked)
}

func (c *console) editIceberg() {
	fmt.Fprintln(c.out, "\n--- Edit Iceberg ---")
	c.cfg.Iceberg.MinQty = int64(c.promptFloat("Min dominant qty", float64(c.cfg.Iceberg.MinQty)))
	c.cfg.Iceberg.Ratio = c.promptFloat("Dominance ratio", c.cfg.Iceberg.Ratio)
	c.cfg.Iceberg.WindowSize = int(c.promptFloat("Window size (ticks)", float64(c.cfg.Iceberg.WindowSize)))
	c.cfg.Iceberg.MemoryDays = int(c.promptFloat("Memory (days)", float64(c.cfg.Iceberg.MemoryDays)))
	c.cfg.Iceberg.MinMove = c.promptFloat("Min move (points)", c.cfg.Iceberg.MinMove)
}

// save refuses to write a config the mentor would reject at startup.
func (c *console) save() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	return config.Save(c.path, c.cfg)
}

func (c *console) showDecision() error {
	url := "http://" + localAddr(c.cfg.HTTP.Addr) + "/decision"
	resp, err := c.client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	var body struct {
		Decision   string  `json:"decision"`
		Bias       string  `json:"bias"`
		Price      float64 `json:"price"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
		Narrative  string  `json:"narrative"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode decision: %w", err)
	}
	fmt.Fprintf(c.out, "\n%s %s @ %.2f (confidence %.0f%%): %s\n%s\n",
		body.Decision, body.Bias, body.Price, body.Confidence*100, body.Reason, body.Narrative)
	return nil
}

func (c *console) launchMentor() {
	fmt.Fprintln(c.out, "Launching mentor (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/mentor", "-config", c.path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(c.out, "failed to start mentor: %v\n", err)
		return
	}
	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Fprint(c.out, "\nPress ENTER to stop the mentor and return to menu...")
	_, _ = c.in.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func (c *console) promptFloat(label string, current float64) float64 {
	fmt.Fprintf(c.out, "%s [%.2f]: ", label, current)
	line, _ := c.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Fprintf(c.out, "invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func (c *console) promptPercent(label string, current float64) float64 {
	return c.promptFloat(label, current*100) / 100
}

func (c *console) promptBool(label string, current bool) bool {
	fmt.Fprintf(c.out, "%s [%t]: ", label, current)
	line, _ := c.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseBool(line)
	if err != nil {
		fmt.Fprintf(c.out, "invalid value, keeping %t\n", current)
		return current
	}
	return val
}

// localAddr turns a listen address such as ":8080" into something dialable.
func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
