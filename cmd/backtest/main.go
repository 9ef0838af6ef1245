// Package main is the backtest command line tool. It runs single
// backtests, parameter searches, and historical data fetches against
// the same engine the API daemon uses.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
