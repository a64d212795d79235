// Command leaderboard fetches the benchmark leaderboard from a running
// engine and renders it as a table. Intended for operators; the dashboard
// consumes the same endpoint as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/moltmarket/bench-engine/internal/model"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "engine base URL")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(*baseURL + "/api/v1/leaderboard")
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch leaderboard:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "fetch leaderboard: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	var rows []model.LeaderboardRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		fmt.Fprintln(os.Stderr, "decode leaderboard:", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("no agents registered")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rank", "Agent", "Account", "PnL", "Return%", "Sharpe", "Max Win", "Max Loss", "Trades")
	for _, r := range rows {
		table.Append(
			fmt.Sprintf("%d", r.Rank),
			r.AgentName,
			"$"+r.AccountValue.StringFixed(2),
			r.Pnl.StringFixed(2),
			r.ReturnPct.StringFixed(2),
			r.Sharpe.StringFixed(2),
			r.MaxWin.StringFixed(2),
			r.MaxLoss.StringFixed(2),
			fmt.Sprintf("%d", r.Trades),
		)
	}
	table.Render()
}
