package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the skirmishd startup banner.
func PrintBanner() {
	p := termenv.ColorProfile()
	// Ember gradient (red to gold)
	s1 := termenv.String("      _    _                     _     _     ").Foreground(p.Color("#f87171"))
	s2 := termenv.String("  ___| | _(_)_ __ _ __ ___  (_)__| |__ | |__ ").Foreground(p.Color("#fb923c"))
	s3 := termenv.String(" / __| |/ / | '__| '_ ` _ \\ | / __| '_ \\| '_ \\").Foreground(p.Color("#f59e0b"))
	s4 := termenv.String(" \\__ \\   <| | |  | | | | | || \\__ \\ | | | | | |").Foreground(p.Color("#fbbf24"))
	s5 := termenv.String(" |___/_|\\_\\_|_|  |_| |_| |_||_|___/_| |_|_| |_|").Foreground(p.Color("#fde047"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Println()
}
