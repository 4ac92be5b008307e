package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"bizchat/stream"
)

var serverURL = flag.String("url", "http://localhost:5001", "bizchat server URL")

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Println(boldGreen("Business Assistant"))
	fmt.Printf("Server: %s\n", boldCyan(*serverURL))
	fmt.Println("Type your message and press Enter. Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	c := newClient(*serverURL, nil)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()
		if strings.TrimSpace(input) == "" {
			continue
		}
		if strings.ToLower(strings.TrimSpace(input)) == "exit" {
			break
		}

		fmt.Print(boldCyan("Assistant: "))
		if err := c.send(ctx, input, printer(os.Stdout)); err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "\nError: %v\n", err)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		fmt.Println()
		fmt.Println()
	}
}

// printer writes chunks as they arrive. The complete event repeats them, so it is not printed.
func printer(w io.Writer) func(stream.Event) error {
	red := color.New(color.FgRed)
	return func(ev stream.Event) error {
		switch ev.Type {
		case stream.EventChunk:
			_, err := io.WriteString(w, ev.Content)
			return err
		case stream.EventError:
			_, err := red.Fprint(w, ev.Content)
			return err
		}
		return nil
	}
}
