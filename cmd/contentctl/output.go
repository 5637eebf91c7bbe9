package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"lessonsync/internal/status"
)

var (
	colorWarning = color.New(color.FgYellow)
	colorError   = color.New(color.FgRed, color.Bold)
	colorSuccess = color.New(color.FgGreen)
	colorNeutral = color.New(color.Faint)
	colorAdded   = color.New(color.FgGreen)
	colorRemoved = color.New(color.FgRed)
)

func toneColor(t status.Tone) *color.Color {
	switch t {
	case status.ToneWarning:
		return colorWarning
	case status.ToneError:
		return colorError
	case status.ToneSuccess:
		return colorSuccess
	default:
		return colorNeutral
	}
}

func printStatus(v status.View) {
	stamp := time.Now().Format("15:04:05")
	fmt.Printf("%s %s\n", colorNeutral.Sprint(stamp), toneColor(v.Tone).Sprintf("[%s] %s", v.Status, v.Label))
}

func printError(err error) {
	colorError.Fprintf(os.Stderr, "Erro: %v\n", err)
}

// printDiff colors a line diff produced by snapshot.TextDiff.
func printDiff(diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+"):
			colorAdded.Print(line)
		case strings.HasPrefix(line, "-"):
			colorRemoved.Print(line)
		default:
			fmt.Print(line)
		}
	}
}
