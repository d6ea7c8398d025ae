// Command guidebot serves the handbook question-answering bot.
//
//	guidebot serve --config guidebot.yaml
//	guidebot ask "연차는 며칠인가요?"
//	guidebot chunk handbook.txt data/remo_guideline.json
//	guidebot index
//	guidebot mcp
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
