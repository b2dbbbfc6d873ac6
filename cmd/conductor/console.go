package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"conductor/pkg/router"
	"conductor/pkg/session"
)

// maxReplyChunkChars bounds a single console write so very long replies
// stay scrollable. Splits happen on newline boundaries where possible.
const maxReplyChunkChars = 4096

// consoleKey identifies the single local operator session.
var consoleKey = session.Key{ChatID: "console", UserID: "local"}

// runConsole reads lines from stdin and prints the handler's reply for
// each, until EOF or ctx cancellation.
func runConsole(ctx context.Context, handler *router.Handler) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("conductor ready. /start for commands, Ctrl-D to exit.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if interactive {
			fmt.Print("> ")
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return scanner.Err()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			reply := handler.Handle(ctx, consoleKey, line)
			for _, chunk := range splitReply(reply, maxReplyChunkChars) {
				fmt.Println(chunk)
			}
		}
	}
}

// splitReply breaks text into chunks of at most limit characters,
// preferring to split at the last newline inside the window.
func splitReply(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
